package relay

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/pitchrelay/pkg/llm"
	"github.com/papercomputeco/pitchrelay/pkg/upstream"
)

// errorResponse maps a handling failure to its status and body:
// validation failures are 400, upstream and unexpected failures are 500.
func errorResponse(err error) (int, llm.ErrorResponse) {
	var upstreamErr *upstream.Error

	switch {
	case errors.Is(err, ErrNoText):
		return fiber.StatusBadRequest, llm.ErrorResponse{Error: err.Error()}
	case errors.As(err, &upstreamErr):
		return fiber.StatusInternalServerError, llm.ErrorResponse{Error: "API request failed: " + upstreamErr.Error()}
	default:
		return fiber.StatusInternalServerError, llm.ErrorResponse{Error: "Error: " + err.Error()}
	}
}
