package imaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	"github.com/cenkalti/dominantcolor"
	"golang.org/x/image/draw"
	"golang.org/x/sync/semaphore"
)

// ErrProcessingFailed is returned when decoding or encoding fails mid-transform
// or a transform stage exceeds its time budget.
var ErrProcessingFailed = errors.New("imaging: processing failed")

// Canonical rendition parameters.
const (
	PrimarySize      = 300
	PrimaryQuality   = 85
	ThumbnailSize    = 100
	ThumbnailQuality = 80
)

// Output is one encoded rendition.
type Output struct {
	Data     []byte
	Width    int
	Height   int
	ByteSize int64
}

// Transformer produces the primary and thumbnail JPEG renditions. Each
// stage runs under a timeout and a shared concurrency limit.
type Transformer struct {
	timeout time.Duration
	sem     *semaphore.Weighted
}

// NewTransformer creates a Transformer that allows at most workers
// concurrent transforms, each bounded by timeout.
func NewTransformer(workers int64, timeout time.Duration) *Transformer {
	if workers <= 0 {
		workers = 1
	}
	return &Transformer{timeout: timeout, sem: semaphore.NewWeighted(workers)}
}

// Primary crops src to fill a 300x300 square around its center and encodes
// it as JPEG at quality 85.
func (t *Transformer) Primary(ctx context.Context, src image.Image) (Output, error) {
	return t.run(ctx, "primary", func() (Output, error) {
		return encodeCover(src, PrimarySize, PrimaryQuality)
	})
}

// Thumbnail decodes the encoded primary rendition and derives a 100x100
// JPEG at quality 80 from it, so both renditions share the same crop.
func (t *Transformer) Thumbnail(ctx context.Context, primary []byte) (Output, error) {
	return t.run(ctx, "thumbnail", func() (Output, error) {
		src, err := jpeg.Decode(bytes.NewReader(primary))
		if err != nil {
			return Output{}, fmt.Errorf("decode primary: %w", err)
		}
		return encodeCover(src, ThumbnailSize, ThumbnailQuality)
	})
}

// DominantColor returns the most prominent colour of the center crop of img
// as "#rrggbb". It samples a 64x64 downscale.
func DominantColor(img image.Image) string {
	return dominantcolor.Hex(dominantcolor.Find(Cover(img, 64, 64)))
}

func (t *Transformer) run(ctx context.Context, stage string, fn func() (Output, error)) (Output, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	if err := t.sem.Acquire(ctx, 1); err != nil {
		return Output{}, fmt.Errorf("%w: %s: %w", ErrProcessingFailed, stage, err)
	}

	type result struct {
		out Output
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer t.sem.Release(1)
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: fmt.Errorf("panic: %v", p)}
			}
		}()
		out, err := fn()
		done <- result{out: out, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return Output{}, fmt.Errorf("%w: %s: %w", ErrProcessingFailed, stage, r.err)
		}
		return r.out, nil
	case <-ctx.Done():
		return Output{}, fmt.Errorf("%w: %s: %w", ErrProcessingFailed, stage, ctx.Err())
	}
}

func encodeCover(src image.Image, size, quality int) (Output, error) {
	dst := Cover(src, size, size)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return Output{}, fmt.Errorf("encode jpeg: %w", err)
	}
	return Output{
		Data:     buf.Bytes(),
		Width:    size,
		Height:   size,
		ByteSize: int64(buf.Len()),
	}, nil
}

// Cover scales src to exactly w x h, cropping the longer axis around the
// center. Transparent areas are flattened onto white.
func Cover(src image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, coverRect(src.Bounds(), w, h), draw.Over, nil)
	return dst
}

// coverRect returns the largest centered sub-rectangle of b with aspect w:h.
func coverRect(b image.Rectangle, w, h int) image.Rectangle {
	sw, sh := b.Dx(), b.Dy()
	cw, ch := sw, sh
	if sw*h > sh*w {
		cw = sh * w / h
	} else {
		ch = sw * h / w
	}
	if cw < 1 {
		cw = 1
	}
	if ch < 1 {
		ch = 1
	}
	x0 := b.Min.X + (sw-cw)/2
	y0 := b.Min.Y + (sh-ch)/2
	return image.Rect(x0, y0, x0+cw, y0+ch)
}
