package http

import (
	"bytes"
	"io"
	"net/http"
	"strconv"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/quadseg/featureflag"
	"github.com/aukilabs/quadseg/grid"
	"github.com/aukilabs/quadseg/models"
	"github.com/aukilabs/quadseg/pipeline"
	"github.com/aukilabs/quadseg/quadtree"
	"github.com/aukilabs/quadseg/receipt"
	"github.com/segmentio/encoding/json"
)

const (
	ErrTypeInvalidParams   = "invalid-params"
	ErrTypeBodyTooLarge    = "body-too-large"
	ErrTypeInvalidReceipt  = "invalid-receipt"
	DefaultMaxBodySize     = 16 << 20
	defaultHistogramBins   = 0
	receiptVerifyBodyLimit = 1 << 16
)

// SegmentationHandler serves the segmentation API.
type SegmentationHandler struct {
	Segmenter *pipeline.Segmenter
	Store     *models.SegmentationStore

	FeatureFlags featureflag.FeatureFlag

	// The default options of a segmentation, overridden by query
	// parameters.
	Options pipeline.Options

	// The maximum size of an uploaded image.
	MaxBodySize int64

	// The bearer token required to delete segmentations. Empty disables
	// the check.
	Token string
}

// Register adds the segmentation routes to a mux.
func (h *SegmentationHandler) Register(mux *http.ServeMux) {
	mux.Handle("POST /segmentations", HandleWithCORS(http.HandlerFunc(h.HandleCreate)))
	mux.Handle("GET /segmentations/{id}", HandleWithCORS(http.HandlerFunc(h.HandleGet)))
	mux.Handle("GET /segmentations/{id}/leaves", HandleWithCORS(http.HandlerFunc(h.HandleLeaves)))
	mux.Handle("GET /segmentations/{id}/image", HandleWithCORS(http.HandlerFunc(h.HandleImage)))
	mux.Handle("GET /segmentations/{id}/histogram.png", HandleWithCORS(http.HandlerFunc(h.HandleHistogram)))
	mux.Handle("DELETE /segmentations/{id}", HandleWithCORS(VerifyTokenHandler(h.Token, http.HandlerFunc(h.HandleDelete))))
	mux.Handle("POST /receipts/verify", HandleWithCORS(http.HandlerFunc(HandleVerifyReceipt)))

	// Method scoped patterns answer 405 to preflight requests.
	preflight := HandleWithCORS(http.NotFoundHandler())
	mux.Handle("OPTIONS /segmentations", preflight)
	mux.Handle("OPTIONS /segmentations/{id}", preflight)
	mux.Handle("OPTIONS /segmentations/{id}/{resource}", preflight)
	mux.Handle("OPTIONS /receipts/verify", preflight)
}

func (h *SegmentationHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	opts, err := h.parseOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}

	data, err := readBody(r.Body, h.maxBodySize())
	if err != nil {
		writeError(w, err)
		return
	}

	digest := pipeline.Digest(data, opts)
	cache := !h.FeatureFlags.IsSet(featureflag.FlagDisableResultCache)
	if cache {
		if seg, ok := h.Store.GetByDigest(digest); ok {
			w.Header().Set("Location", "/segmentations/"+seg.ID)
			writeJSON(w, http.StatusOK, seg)
			return
		}
	}

	seg, err := h.Segmenter.SegmentBytes(r.Context(), data, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	if !cache {
		seg.Digest = ""
	}
	h.Store.Add(seg)

	w.Header().Set("Location", "/segmentations/"+seg.ID)
	writeJSON(w, http.StatusCreated, seg)
}

func (h *SegmentationHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	seg, err := h.Store.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, seg)
}

func (h *SegmentationHandler) HandleLeaves(w http.ResponseWriter, r *http.Request) {
	seg, err := h.Store.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, seg.Leaves)
}

func (h *SegmentationHandler) HandleImage(w http.ResponseWriter, r *http.Request) {
	seg, err := h.Store.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	format := grid.FormatPNG
	if v := r.URL.Query().Get("format"); v != "" {
		if format, err = grid.ParseFormat(v); err != nil {
			writeError(w, err)
			return
		}
	}

	output := seg.Output
	if v := r.URL.Query().Get("display"); v != "" {
		side, err := strconv.Atoi(v)
		if err != nil || side <= 0 || side > pipeline.MaxDisplaySize || !grid.IsPow2(side) {
			writeError(w, errors.New("display must be a power of two up to the max display size").
				WithType(ErrTypeInvalidParams).
				WithTag("display", v))
			return
		}
		output = grid.Resize(output, side)
	}

	var buf bytes.Buffer
	if err := grid.Encode(&buf, output, format); err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (h *SegmentationHandler) HandleHistogram(w http.ResponseWriter, r *http.Request) {
	seg, err := h.Store.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	bins := defaultHistogramBins
	if v := r.URL.Query().Get("bins"); v != "" {
		if bins, err = strconv.Atoi(v); err != nil || bins <= 0 {
			writeError(w, errors.New("bins must be a positive integer").
				WithType(ErrTypeInvalidParams).
				WithTag("bins", v))
			return
		}
	}

	b, err := models.HistogramPNG(seg, bins)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", grid.FormatPNG.ContentType())
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

func (h *SegmentationHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Remove(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleVerifyReceipt checks a receipt payload posted as JSON.
func HandleVerifyReceipt(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(r.Body, receiptVerifyBodyLimit)
	if err != nil {
		writeError(w, err)
		return
	}

	var payload receipt.Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		writeError(w, errors.New("invalid receipt payload").
			WithType(ErrTypeInvalidParams).
			Wrap(err))
		return
	}

	if err := receipt.VerifyPayload(payload); err != nil {
		writeError(w, errors.New("receipt verification failed").
			WithType(ErrTypeInvalidReceipt).
			WithTag("reason", errors.Type(err)).
			Wrap(err))
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Valid   bool   `json:"valid"`
		Address string `json:"address"`
	}{
		Valid:   true,
		Address: payload.Address,
	})
}

func (h *SegmentationHandler) maxBodySize() int64 {
	if h.MaxBodySize <= 0 {
		return DefaultMaxBodySize
	}
	return h.MaxBodySize
}

func (h *SegmentationHandler) parseOptions(r *http.Request) (pipeline.Options, error) {
	opts := h.Options
	query := r.URL.Query()

	invalid := func(name, value string) error {
		return errors.New("invalid query parameter").
			WithType(ErrTypeInvalidParams).
			WithTag("name", name).
			WithTag("value", value)
	}

	if v := query.Get("threshold"); v != "" {
		threshold, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return opts, invalid("threshold", v)
		}
		opts.Threshold = threshold
	}

	if v := query.Get("link"); v != "" {
		tolerance, err := strconv.Atoi(v)
		if err != nil {
			return opts, invalid("link", v)
		}
		opts.LinkTolerance = tolerance
	}

	if v := query.Get("fit"); v != "" {
		fit, err := strconv.ParseBool(v)
		if err != nil {
			return opts, invalid("fit", v)
		}
		opts.Fit = fit
	}

	if v := query.Get("display"); v != "" {
		display, err := strconv.Atoi(v)
		if err != nil {
			return opts, invalid("display", v)
		}
		opts.DisplaySize = display
	}

	return opts, nil
}

func readBody(body io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, errors.New("reading body failed").
			WithType(pipeline.ErrTypeReadFailed).
			Wrap(err)
	}
	if int64(len(data)) > limit {
		return nil, errors.New("body is too large").
			WithType(ErrTypeBodyTooLarge).
			WithTag("limit", limit)
	}
	return data, nil
}

func statusCode(err error) int {
	switch errors.Type(err) {
	case quadtree.ErrTypeInvalidGrid,
		quadtree.ErrTypeInvalidConfig,
		pipeline.ErrTypeInvalidOptions,
		grid.ErrTypeDecode,
		grid.ErrTypeUnsupportedFormat,
		ErrTypeInvalidParams:
		return http.StatusBadRequest

	case models.ErrTypeNotFound:
		return http.StatusNotFound

	case ErrTypeBodyTooLarge,
		grid.ErrTypeImageTooLarge,
		quadtree.ErrTypeNodeBudgetExceeded:
		return http.StatusRequestEntityTooLarge

	case ErrTypeInvalidReceipt:
		return http.StatusUnprocessableEntity

	default:
		return http.StatusInternalServerError
	}
}
