package smoketest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/quadseg/grid"
	"github.com/aukilabs/quadseg/models"
	"github.com/aukilabs/quadseg/receipt"
	"github.com/segmentio/encoding/json"
)

const (
	ErrTypeUnexpectedStatus = "smoke-test-unexpected-status"
	ErrTypeUnexpectedResult = "smoke-test-unexpected-result"

	StatusSuccess = "success"
	StatusFailed  = "failed"

	DefaultTimeout = 10 * time.Second
)

type Options struct {
	// The public endpoint of this server.
	Endpoint   string
	UserAgent  string
	Transport  http.RoundTripper
	SendResult func(context.Context, Result) error
}

// Request asks to run a smoke test against an endpoint. This server's own
// endpoint is tested when none is given.
type Request struct {
	Endpoint string        `json:"endpoint"`
	Timeout  time.Duration `json:"timeout"`
}

type Result struct {
	FromEndpoint    string  `json:"from_endpoint"`
	ToEndpoint      string  `json:"to_endpoint"`
	Status          string  `json:"status"`
	LatencyMilliSec float64 `json:"latency_ms"`
	SegmentationID  string  `json:"segmentation_id,omitempty"`
	Error           string  `json:"error,omitempty"`
}

type testCtxKey string

var testCtxKeyValue testCtxKey = "test-context"

type testContext struct {
	context.Context
	Cancel func()
}

func HandleSmokeTest(ctx context.Context, opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
		if err != nil {
			logs.Warn(errors.New("reading body failed").Wrap(err))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		var req Request
		if len(bytes.TrimSpace(b)) != 0 {
			if err := json.Unmarshal(b, &req); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
		}
		if req.Endpoint == "" {
			req.Endpoint = opts.Endpoint
		}

		go func() {
			defer func() {
				// if context is of testContext
				// cancel context on exit to signal function exited
				// this is used for testing
				if tctx := ctx.Value(testCtxKeyValue); tctx != nil {
					testCtx := tctx.(testContext)
					if testCtx.Cancel != nil {
						testCtx.Cancel()
					}
				}
			}()

			res, err := RunSmokeTest(ctx, RunOptions{
				FromEndpoint: opts.Endpoint,
				ToEndpoint:   req.Endpoint,
				Timeout:      req.Timeout,
				UserAgent:    opts.UserAgent,
				Transport:    opts.Transport,
			})
			if err != nil {
				logs.Warn(err)
			}

			if opts.SendResult == nil {
				return
			}
			if err := opts.SendResult(ctx, res); err != nil {
				logs.WithTag("from_endpoint", opts.Endpoint).
					WithTag("to_endpoint", req.Endpoint).
					Warn(errors.New("sending smoke test result failed").Wrap(err))
			}
		}()

		w.WriteHeader(http.StatusAccepted)
	}
}

type RunOptions struct {
	FromEndpoint string
	ToEndpoint   string
	Timeout      time.Duration
	UserAgent    string
	Transport    http.RoundTripper
}

// RunSmokeTest segments a known image on an endpoint and checks the result.
func RunSmokeTest(ctx context.Context, opts RunOptions) (Result, error) {
	res := Result{
		FromEndpoint: opts.FromEndpoint,
		ToEndpoint:   opts.ToEndpoint,
		Status:       StatusFailed,
	}

	seg, latency, err := segmentSample(ctx, opts)
	if err == nil {
		err = checkSample(seg)
	}
	if err != nil {
		res.Error = err.Error()
		return res, errors.New("smoke test failed").
			WithTag("from_endpoint", opts.FromEndpoint).
			WithTag("to_endpoint", opts.ToEndpoint).
			Wrap(err)
	}

	res.Status = StatusSuccess
	res.LatencyMilliSec = float64(latency) / float64(time.Millisecond)
	res.SegmentationID = seg.ID
	return res, nil
}

// Sample returns the image segmented by smoke tests: a 4x4 grid whose
// upper-right quadrant is much brighter than the rest.
func Sample() *grid.Gray {
	g, _ := grid.NewGrayFromRows([][]uint8{
		{10, 10, 200, 200},
		{10, 10, 200, 200},
		{10, 10, 10, 10},
		{10, 10, 10, 10},
	})
	return g
}

func segmentSample(ctx context.Context, opts RunOptions) (models.Segmentation, time.Duration, error) {
	var seg models.Segmentation

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body bytes.Buffer
	if err := grid.Encode(&body, Sample(), grid.FormatPNG); err != nil {
		return seg, 0, err
	}

	url := fmt.Sprintf("%s/segmentations?threshold=40", strings.TrimSuffix(opts.ToEndpoint, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return seg, 0, errors.New("creating request failed").Wrap(err)
	}
	req.Header.Set("Content-Type", grid.FormatPNG.ContentType())
	if opts.UserAgent != "" {
		req.Header.Set("User-Agent", opts.UserAgent)
	}

	client := http.Client{Transport: opts.Transport}

	start := time.Now()
	res, err := client.Do(req)
	if err != nil {
		return seg, 0, errors.New("posting sample failed").Wrap(err)
	}
	defer res.Body.Close()
	latency := time.Since(start)

	if res.StatusCode != http.StatusCreated && res.StatusCode != http.StatusOK {
		return seg, 0, errors.New("unexpected status code").
			WithType(ErrTypeUnexpectedStatus).
			WithTag("status", res.StatusCode)
	}

	if err := json.NewDecoder(res.Body).Decode(&seg); err != nil {
		return seg, 0, errors.New("decoding segmentation failed").Wrap(err)
	}
	return seg, latency, nil
}

func checkSample(seg models.Segmentation) error {
	if seg.LeafCount != 4 || seg.Depth != 1 || seg.NodeCount != 5 {
		return errors.New("unexpected segmentation shape").
			WithType(ErrTypeUnexpectedResult).
			WithTag("leaf_count", seg.LeafCount).
			WithTag("depth", seg.Depth).
			WithTag("node_count", seg.NodeCount)
	}

	if seg.Receipt != nil {
		if err := receipt.VerifyPayload(*seg.Receipt); err != nil {
			return errors.New("invalid segmentation receipt").
				WithType(ErrTypeUnexpectedResult).
				Wrap(err)
		}
	}
	return nil
}
