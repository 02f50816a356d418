package imaging

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"
	"time"
)

func solidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func TestValidateAcceptsSupportedFormats(t *testing.T) {
	v := NewValidator(DefaultPolicy())
	src := solidImage(60, 80, color.Black)

	var gifBuf bytes.Buffer
	if err := gif.Encode(&gifBuf, src, nil); err != nil {
		t.Fatalf("encode gif: %v", err)
	}

	cases := []struct {
		name   string
		data   []byte
		file   string
		format string
	}{
		{"png", encodePNG(t, src), "me.png", "png"},
		{"jpeg", encodeJPEG(t, src), "me.JPG", "jpeg"},
		{"gif", gifBuf.Bytes(), "", "gif"},
		{"extension mismatch still decodes", encodePNG(t, src), "me.jpg", "png"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := v.Validate(tc.data, tc.file)
			if !res.Accepted {
				t.Fatalf("expected accepted, got %s: %s", res.Code, res.Reason)
			}
			if res.Format != tc.format || res.Width != 60 || res.Height != 80 || res.Image == nil {
				t.Fatalf("unexpected result %+v", res)
			}
			if res.Err() != nil {
				t.Fatalf("accepted result should have nil Err, got %v", res.Err())
			}
		})
	}
}

func TestValidateRejections(t *testing.T) {
	v := NewValidator(DefaultPolicy())
	ok := encodePNG(t, solidImage(60, 60, color.Black))

	oversized := make([]byte, 6<<20)
	copy(oversized, encodeJPEG(t, solidImage(60, 60, color.Black)))

	cases := []struct {
		name string
		data []byte
		file string
		code string
	}{
		{"empty", nil, "a.png", CodeEmptyFile},
		{"six mib", oversized, "big.jpg", CodeFileTooLarge},
		{"bad extension", ok, "payload.exe", CodeUnsupportedExtension},
		{"text renamed jpg", []byte(strings.Repeat("hello world\n", 20)), "notes.jpg", CodeUnsupportedFormat},
		{"truncated png", ok[:40], "cut.png", CodeUndecodableImage},
		{"too small", encodePNG(t, solidImage(10, 10, color.Black)), "tiny.png", CodeImageTooSmall},
		{"too narrow", encodePNG(t, solidImage(49, 400, color.Black)), "narrow.png", CodeImageTooSmall},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := v.Validate(tc.data, tc.file)
			if res.Accepted {
				t.Fatalf("expected rejection %s", tc.code)
			}
			if res.Code != tc.code {
				t.Fatalf("expected code %s, got %s (%s)", tc.code, res.Code, res.Reason)
			}
			var verr *ValidationError
			if !errors.As(res.Err(), &verr) || verr.Code != tc.code || verr.Message == "" {
				t.Fatalf("unexpected Err() %#v", res.Err())
			}
		})
	}
}

func TestValidateRejectsOversizedDimensions(t *testing.T) {
	v := NewValidator(DefaultPolicy())
	data := encodeJPEG(t, image.NewGray(image.Rect(0, 0, 6000, 6000)))

	res := v.Validate(data, "huge.jpg")
	if res.Accepted || res.Code != CodeImageTooLarge {
		t.Fatalf("expected %s, got %+v", CodeImageTooLarge, res)
	}
	if res.Width != 6000 || res.Height != 6000 || res.Image != nil {
		t.Fatalf("expected header dimensions without a decoded image, got %+v", res)
	}
}

func TestValidateSizeMessageIsHumanReadable(t *testing.T) {
	v := NewValidator(Policy{MaxBytes: 1 << 10, MinDimension: 1, MaxDimension: 10})
	res := v.Validate(make([]byte, 2048), "")
	if res.Code != CodeFileTooLarge || !strings.Contains(res.Reason, "1 KiB") {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestHumanBytes(t *testing.T) {
	cases := map[int64]string{
		5 << 20:   "5 MiB",
		512 << 10: "512 KiB",
		1500:      "1500 bytes",
		3<<20 + 1: "3145729 bytes",
	}
	for n, want := range cases {
		if got := HumanBytes(n); got != want {
			t.Fatalf("HumanBytes(%d) = %q, want %q", n, got, want)
		}
	}
}

func TestPrimaryAndThumbnailDimensions(t *testing.T) {
	tr := NewTransformer(2, 5*time.Second)
	ctx := context.Background()

	primary, err := tr.Primary(ctx, solidImage(60, 60, color.Black))
	if err != nil {
		t.Fatalf("primary: %v", err)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(primary.Data))
	if err != nil {
		t.Fatalf("decode primary: %v", err)
	}
	if format != "jpeg" || cfg.Width != PrimarySize || cfg.Height != PrimarySize {
		t.Fatalf("unexpected primary %s %dx%d", format, cfg.Width, cfg.Height)
	}
	if primary.ByteSize != int64(len(primary.Data)) || primary.Width != PrimarySize {
		t.Fatalf("unexpected primary metadata %+v", primary)
	}

	thumb, err := tr.Thumbnail(ctx, primary.Data)
	if err != nil {
		t.Fatalf("thumbnail: %v", err)
	}
	cfg, format, err = image.DecodeConfig(bytes.NewReader(thumb.Data))
	if err != nil {
		t.Fatalf("decode thumbnail: %v", err)
	}
	if format != "jpeg" || cfg.Width != ThumbnailSize || cfg.Height != ThumbnailSize {
		t.Fatalf("unexpected thumbnail %s %dx%d", format, cfg.Width, cfg.Height)
	}
}

func TestCoverCropsCenterWithoutStretching(t *testing.T) {
	// 200x100: red | green | blue with the green band in the middle 100 px.
	src := image.NewRGBA(image.Rect(0, 0, 200, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 200; x++ {
			switch {
			case x < 50:
				src.Set(x, y, color.RGBA{R: 255, A: 255})
			case x >= 150:
				src.Set(x, y, color.RGBA{B: 255, A: 255})
			default:
				src.Set(x, y, color.RGBA{G: 255, A: 255})
			}
		}
	}

	dst := Cover(src, 50, 50)
	if dst.Bounds().Dx() != 50 || dst.Bounds().Dy() != 50 {
		t.Fatalf("unexpected bounds %v", dst.Bounds())
	}
	for _, p := range []image.Point{{2, 2}, {25, 25}, {47, 47}} {
		c := dst.RGBAAt(p.X, p.Y)
		if c.G < 200 || c.R > 60 || c.B > 60 {
			t.Fatalf("pixel %v = %+v, expected green from the center crop", p, c)
		}
	}
}

func TestCoverFlattensTransparencyOnWhite(t *testing.T) {
	dst := Cover(image.NewNRGBA(image.Rect(0, 0, 60, 60)), 10, 10)
	if c := dst.RGBAAt(5, 5); c.R != 255 || c.G != 255 || c.B != 255 {
		t.Fatalf("expected white, got %+v", c)
	}
}

func TestThumbnailRejectsCorruptPrimary(t *testing.T) {
	tr := NewTransformer(1, time.Second)
	if _, err := tr.Thumbnail(context.Background(), []byte("not a jpeg")); !errors.Is(err, ErrProcessingFailed) {
		t.Fatalf("expected ErrProcessingFailed, got %v", err)
	}
}

func TestTransformTimesOutWhenWorkersAreBusy(t *testing.T) {
	tr := NewTransformer(1, 50*time.Millisecond)
	if err := tr.sem.Acquire(context.Background(), 1); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer tr.sem.Release(1)

	_, err := tr.Primary(context.Background(), solidImage(60, 60, color.Black))
	if !errors.Is(err, ErrProcessingFailed) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected processing failure from deadline, got %v", err)
	}
}

func TestDominantColor(t *testing.T) {
	got := DominantColor(solidImage(60, 60, color.RGBA{R: 255, A: 255}))
	if !strings.HasPrefix(got, "#") || len(got) != 7 {
		t.Fatalf("unexpected colour %q", got)
	}
}
