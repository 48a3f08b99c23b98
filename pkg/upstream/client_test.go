package upstream_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/papercomputeco/pitchrelay/pkg/llm"
	"github.com/papercomputeco/pitchrelay/pkg/upstream"
)

const completionBody = `{"id":"chatcmpl-1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"What is a 3MT?"}}],"usage":{"total_tokens":12}}`

var _ = Describe("Client", func() {
	var (
		ctx      context.Context
		attempts atomic.Int32
		failFor  atomic.Int32
		status   atomic.Int32
		server   *httptest.Server
		seen     chan *http.Request
		bodies   chan []byte
	)

	chatRequest := func() *llm.ChatRequest {
		return &llm.ChatRequest{
			Model: "gpt-3.5-turbo",
			Messages: []llm.Message{
				{Role: llm.RoleSystem, Content: "persona"},
				{Role: llm.RoleUser, Content: "hello"},
			},
		}
	}

	newClient := func(url, apiKey string) *upstream.Client {
		return upstream.New(upstream.Config{
			URL:         url,
			APIKey:      apiKey,
			Timeout:     time.Second,
			MaxRetries:  upstream.DefaultMaxRetries,
			BackoffBase: time.Millisecond,
		}, zap.NewNop())
	}

	BeforeEach(func() {
		ctx = context.Background()
		attempts.Store(0)
		failFor.Store(0)
		status.Store(http.StatusServiceUnavailable)
		seen = make(chan *http.Request, 8)
		bodies = make(chan []byte, 8)

		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			n := attempts.Add(1)
			body, _ := io.ReadAll(r.Body)
			seen <- r
			bodies <- body
			if n <= failFor.Load() {
				w.WriteHeader(int(status.Load()))
				_, _ = w.Write([]byte(`{"error":"overloaded"}`))
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(completionBody))
		}))
	})

	AfterEach(func() {
		server.Close()
	})

	It("returns the upstream body byte-for-byte", func() {
		client := newClient(server.URL, "Bearer sk-test")

		body, err := client.Complete(ctx, chatRequest())
		Expect(err).NotTo(HaveOccurred())
		Expect(string(body)).To(Equal(completionBody))
		Expect(attempts.Load()).To(Equal(int32(1)))
	})

	It("sends the JSON content type and the credential verbatim", func() {
		client := newClient(server.URL, "Bearer sk-test")

		_, err := client.Complete(ctx, chatRequest())
		Expect(err).NotTo(HaveOccurred())

		req := <-seen
		Expect(req.Method).To(Equal(http.MethodPost))
		Expect(req.Header.Get("Content-Type")).To(Equal("application/json"))
		Expect(req.Header.Get("Authorization")).To(Equal("Bearer sk-test"))

		var sent llm.ChatRequest
		Expect(json.Unmarshal(<-bodies, &sent)).To(Succeed())
		Expect(sent.Model).To(Equal("gpt-3.5-turbo"))
		Expect(sent.Messages).To(HaveLen(2))
		Expect(sent.Messages[0].Role).To(Equal(llm.RoleSystem))
		Expect(sent.Messages[1].Content).To(Equal("hello"))
	})

	Context("when the upstream is temporarily unavailable", func() {
		It("succeeds on the fourth attempt after three 503s", func() {
			failFor.Store(3)
			client := newClient(server.URL, "key")

			body, err := client.Complete(ctx, chatRequest())
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(Equal(completionBody))
			Expect(attempts.Load()).To(Equal(int32(4)))
		})

		It("gives up after four 503s", func() {
			failFor.Store(4)
			client := newClient(server.URL, "key")

			_, err := client.Complete(ctx, chatRequest())
			Expect(err).To(HaveOccurred())
			Expect(attempts.Load()).To(Equal(int32(4)))

			var upstreamErr *upstream.Error
			Expect(errors.As(err, &upstreamErr)).To(BeTrue())
			Expect(upstreamErr.StatusCode).To(Equal(http.StatusServiceUnavailable))
			Expect(err.Error()).To(ContainSubstring("giving up after 4 attempt(s)"))
		})

		It("does not let Retry-After stretch the wait past the last backoff", func() {
			clamped := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if attempts.Add(1) == 1 {
					w.Header().Set("Retry-After", "6")
					w.WriteHeader(http.StatusServiceUnavailable)
					return
				}
				_, _ = w.Write([]byte(completionBody))
			}))
			defer clamped.Close()

			start := time.Now()
			body, err := newClient(clamped.URL, "key").Complete(ctx, chatRequest())
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(Equal(completionBody))
			Expect(attempts.Load()).To(Equal(int32(2)))
			Expect(time.Since(start)).To(BeNumerically("<", time.Second))
		})

		DescribeTable("retries only the transient statuses",
			func(code int, expectedAttempts int32) {
				failFor.Store(1)
				status.Store(int32(code))
				client := newClient(server.URL, "key")

				_, _ = client.Complete(ctx, chatRequest())
				Expect(attempts.Load()).To(Equal(expectedAttempts))
			},
			Entry("429", http.StatusTooManyRequests, int32(2)),
			Entry("500", http.StatusInternalServerError, int32(2)),
			Entry("502", http.StatusBadGateway, int32(2)),
			Entry("503", http.StatusServiceUnavailable, int32(2)),
			Entry("504", http.StatusGatewayTimeout, int32(2)),
			Entry("400", http.StatusBadRequest, int32(1)),
			Entry("401", http.StatusUnauthorized, int32(1)),
			Entry("501", http.StatusNotImplemented, int32(1)),
		)
	})

	It("fails without retrying on a non-retryable status", func() {
		failFor.Store(1)
		status.Store(http.StatusUnauthorized)
		client := newClient(server.URL, "key")

		_, err := client.Complete(ctx, chatRequest())
		var upstreamErr *upstream.Error
		Expect(errors.As(err, &upstreamErr)).To(BeTrue())
		Expect(upstreamErr.StatusCode).To(Equal(http.StatusUnauthorized))
		Expect(err.Error()).To(ContainSubstring("401"))
	})

	It("rejects a success body that is not JSON", func() {
		plain := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("<html>gateway</html>"))
		}))
		defer plain.Close()

		_, err := newClient(plain.URL, "key").Complete(ctx, chatRequest())
		var upstreamErr *upstream.Error
		Expect(errors.As(err, &upstreamErr)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("non-JSON"))
	})

	It("treats a slow upstream as a transport failure", func() {
		slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
			_, _ = w.Write([]byte(completionBody))
		}))
		defer slow.Close()

		client := upstream.New(upstream.Config{
			URL:         slow.URL,
			APIKey:      "key",
			Timeout:     20 * time.Millisecond,
			MaxRetries:  1,
			BackoffBase: time.Millisecond,
		}, zap.NewNop())

		_, err := client.Complete(ctx, chatRequest())
		var upstreamErr *upstream.Error
		Expect(errors.As(err, &upstreamErr)).To(BeTrue())
		Expect(upstreamErr.StatusCode).To(BeZero())
		Expect(err.Error()).To(ContainSubstring("giving up after 2 attempt(s)"))
	})

	Context("when configuration is missing", func() {
		It("fails without a URL", func() {
			_, err := newClient("", "key").Complete(ctx, chatRequest())
			Expect(errors.Is(err, upstream.ErrNotConfigured)).To(BeTrue())
			Expect(attempts.Load()).To(BeZero())
		})

		It("fails without a credential", func() {
			_, err := newClient(server.URL, "").Complete(ctx, chatRequest())
			Expect(errors.Is(err, upstream.ErrNotConfigured)).To(BeTrue())
			Expect(attempts.Load()).To(BeZero())
		})
	})
})
