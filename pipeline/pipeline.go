// Package pipeline runs complete segmentations: quadtree construction,
// classification, optional component linking, display resizing and receipt
// signing.
package pipeline

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/quadseg/featureflag"
	"github.com/aukilabs/quadseg/grid"
	"github.com/aukilabs/quadseg/linking"
	"github.com/aukilabs/quadseg/models"
	"github.com/aukilabs/quadseg/quadtree"
	"github.com/aukilabs/quadseg/receipt"
	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

const (
	ErrTypeInvalidOptions = "invalid-options"
	ErrTypeReadFailed     = "read-failed"

	// MaxDisplaySize is the largest side an output can be rendered at.
	MaxDisplaySize = 4096
)

// Options are the per request segmentation parameters.
type Options struct {
	// The split threshold.
	Threshold float64

	// The maximum intensity difference between linked leaves. Linking is
	// skipped when negative.
	LinkTolerance int

	// Crops non power-of-two images to the largest power-of-two square
	// instead of rejecting them.
	Fit bool

	// The side of the rendered output. Zero keeps the input size.
	DisplaySize int
}

func DefaultOptions() Options {
	return Options{
		Threshold:     quadtree.DefaultThreshold,
		LinkTolerance: -1,
	}
}

func (o Options) Validate() error {
	if err := (quadtree.Config{Threshold: o.Threshold}).Validate(); err != nil {
		return err
	}
	if o.DisplaySize < 0 || o.DisplaySize > MaxDisplaySize {
		return errors.New("display size out of range").
			WithType(ErrTypeInvalidOptions).
			WithTag("display_size", o.DisplaySize).
			WithTag("max_display_size", MaxDisplaySize)
	}
	if o.DisplaySize > 0 && !grid.IsPow2(o.DisplaySize) {
		return errors.New("display size must be a power of two").
			WithType(ErrTypeInvalidOptions).
			WithTag("display_size", o.DisplaySize)
	}
	return nil
}

// Digest returns a fingerprint of an encoded input and the options that
// change the segmentation result.
func Digest(data []byte, opts Options) string {
	var b [8]byte
	d := xxhash.New()
	d.Write(data)

	binary.LittleEndian.PutUint64(b[:], math.Float64bits(opts.Threshold))
	d.Write(b[:])
	binary.LittleEndian.PutUint64(b[:], uint64(int64(opts.LinkTolerance)))
	d.Write(b[:])
	binary.LittleEndian.PutUint64(b[:], uint64(opts.DisplaySize))
	d.Write(b[:])
	if opts.Fit {
		d.Write([]byte{1})
	}
	return fmt.Sprintf("%016x", d.Sum64())
}

// Segmenter runs segmentations with a bounded concurrency.
type Segmenter struct {
	// The node budget of each tree. Zero means unlimited.
	MaxNodes int

	// The maximum number of segmentations running at once. Zero means
	// unlimited.
	MaxConcurrent int

	// The signer of result receipts. No receipt is produced when nil.
	Signer *receipt.Signer

	FeatureFlags featureflag.FeatureFlag

	initOnce sync.Once
	tokens   chan struct{}
}

func (s *Segmenter) init() {
	if s.MaxConcurrent > 0 {
		s.tokens = make(chan struct{}, s.MaxConcurrent)
	}
}

func (s *Segmenter) acquire(ctx context.Context) error {
	s.initOnce.Do(s.init)
	if s.tokens == nil {
		return ctx.Err()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case s.tokens <- struct{}{}:
		instrumentInFlight(1)
		return nil
	}
}

func (s *Segmenter) release() {
	if s.tokens == nil {
		return
	}
	<-s.tokens
	instrumentInFlight(-1)
}

// SegmentImage decodes an encoded image and segments it. The returned
// segmentation carries the digest of the encoded input.
func (s *Segmenter) SegmentImage(ctx context.Context, r io.Reader, opts Options) (*models.Segmentation, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.New("reading image failed").
			WithType(ErrTypeReadFailed).
			Wrap(err)
	}
	return s.SegmentBytes(ctx, data, opts)
}

// SegmentBytes segments an encoded image held in memory.
func (s *Segmenter) SegmentBytes(ctx context.Context, data []byte, opts Options) (*models.Segmentation, error) {
	g, format, err := grid.Decode(bytes.NewReader(data))
	if err != nil {
		instrumentError(err)
		return nil, err
	}
	if opts.Fit {
		g = grid.FitPow2(g)
	}

	logs.WithTag("format", format).
		WithTag("width", g.Width()).
		WithTag("height", g.Height()).
		Debug("image decoded")

	seg, err := s.Segment(ctx, g, opts)
	if err != nil {
		return nil, err
	}
	seg.Digest = Digest(data, opts)
	return seg, nil
}

// Segment segments a grid. The grid is only read.
func (s *Segmenter) Segment(ctx context.Context, src grid.Reader, opts Options) (*models.Segmentation, error) {
	start := time.Now()

	seg, err := s.segment(ctx, src, opts)
	if err != nil {
		instrumentError(err)
		logs.Warn(errors.New("segmentation failed").
			WithTag("threshold", opts.Threshold).
			WithTag("width", src.Width()).
			WithTag("height", src.Height()).
			Wrap(err))
		return nil, err
	}

	seg.Elapsed = time.Since(start)
	instrumentSegmentation(start, seg)

	logs.WithTag("id", seg.ID).
		WithTag("threshold", seg.Threshold).
		WithTag("side", seg.Width).
		WithTag("depth", seg.Depth).
		WithTag("leaves", seg.LeafCount).
		WithTag("components", seg.Components).
		WithTag("elapsed", seg.Elapsed).
		Info("segmentation completed")
	return seg, nil
}

func (s *Segmenter) segment(ctx context.Context, src grid.Reader, opts Options) (*models.Segmentation, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	if err := s.acquire(ctx); err != nil {
		return nil, errors.New("waiting for a segmentation slot failed").Wrap(err)
	}
	defer s.release()

	tree, err := quadtree.Build(src, quadtree.Config{
		Threshold: opts.Threshold,
		MaxNodes:  s.MaxNodes,
	})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	output, err := tree.Classify()
	if err != nil {
		return nil, err
	}

	seg := &models.Segmentation{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Threshold: opts.Threshold,
		Width:     src.Width(),
		Height:    src.Height(),
		Depth:     tree.Depth(),
		NodeCount: tree.NodeCount(),
		LeafCount: tree.LeafCount(),
	}

	if opts.LinkTolerance >= 0 && s.FeatureFlags.IsSet(featureflag.FlagEnableComponentLinking) {
		res, err := linking.Link(tree, opts.LinkTolerance)
		if err != nil {
			return nil, err
		}
		seg.Components = res.Components
	}

	seg.Leaves = models.LeavesFromTree(tree)
	seg.Stats = models.NewStats(seg.Leaves)

	if opts.DisplaySize > 0 {
		output = grid.Resize(output, opts.DisplaySize)
	}
	seg.Output = output

	if s.Signer != nil && !s.FeatureFlags.IsSet(featureflag.FlagDisableReceipts) {
		payload, err := s.Signer.Sign(seg.ID, output.Pix())
		if err != nil {
			return nil, err
		}
		seg.Receipt = &payload
	}
	return seg, nil
}
