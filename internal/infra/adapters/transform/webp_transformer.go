package transform

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"math"
	"strconv"
	"strings"

	"github.com/kolesa-team/go-webp/decoder"
	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
	"github.com/rs/zerolog"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"product-image-pipeline/internal/domain"
	"product-image-pipeline/internal/domain/model"
	"product-image-pipeline/internal/domain/ports/adapter"
	"product-image-pipeline/internal/infra/logging"
)

// Compile-time check
var _ adapter.ImageTransformer = (*WebPTransformer)(nil)

// WebPTransformer decodes jpeg, png, gif, webp, tiff and bmp sources,
// resamples them with Catmull-Rom and encodes webp through libwebp.
type WebPTransformer struct {
	log *zerolog.Logger
}

func NewWebPTransformer(logger *zerolog.Logger) *WebPTransformer {
	l := logger.With().Str("component", "transform").Logger()
	return &WebPTransformer{log: &l}
}

func (t *WebPTransformer) Process(ctx context.Context, src []byte, opts adapter.TransformOptions) ([]byte, error) {
	defer logging.TraceDuration(t.log, "WebPTransformer.Process")()
	if opts.TargetWidth <= 0 || opts.TargetHeight <= 0 ||
		opts.TargetWidth > model.MaxDimension || opts.TargetHeight > model.MaxDimension {
		return nil, fmt.Errorf("target %dx%d: %w", opts.TargetWidth, opts.TargetHeight, domain.ErrInvalidArgument)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := decode(src)
	if err != nil {
		return nil, err
	}
	region := img.Bounds()
	if opts.Extract != nil {
		if region, err = extractRect(img.Bounds(), *opts.Extract); err != nil {
			return nil, err
		}
	}

	bg, err := parseBackground(opts.Background)
	if err != nil {
		return nil, err
	}

	canvas := image.NewNRGBA(image.Rect(0, 0, opts.TargetWidth, opts.TargetHeight))
	srcRect, dstRect := layout(region, opts.TargetWidth, opts.TargetHeight, opts.Fit)
	if dstRect != canvas.Bounds() {
		draw.Draw(canvas, canvas.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	draw.CatmullRom.Scale(canvas, dstRect, img, srcRect, draw.Over, nil)

	out, err := encode(canvas, opts.Format, opts.Quality)
	if err != nil {
		return nil, err
	}
	t.log.Debug().
		Int("width", opts.TargetWidth).
		Int("height", opts.TargetHeight).
		Str("fit", string(opts.Fit)).
		Str("format", string(opts.Format)).
		Int("bytes", len(out)).
		Msg("image transformed")
	return out, nil
}

// Compress re-encodes src at quality without changing its geometry.
func (t *WebPTransformer) Compress(ctx context.Context, src []byte, format model.ImageFormat, quality int) ([]byte, error) {
	defer logging.TraceDuration(t.log, "WebPTransformer.Compress")()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := decode(src)
	if err != nil {
		return nil, err
	}
	return encode(img, format, quality)
}

func (t *WebPTransformer) GetInfo(ctx context.Context, src []byte) (adapter.ImageInfo, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(src))
	if err != nil {
		return adapter.ImageInfo{}, fmt.Errorf("read image header: %w", domain.ErrUnsupportedFormat)
	}
	return adapter.ImageInfo{
		Width:      cfg.Width,
		Height:     cfg.Height,
		Format:     format,
		Size:       int64(len(src)),
		HasAlpha:   hasAlpha(cfg.ColorModel),
		ColorSpace: colorSpace(cfg.ColorModel),
	}, nil
}

func decode(src []byte) (image.Image, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("read image header: %w", domain.ErrUnsupportedFormat)
	}
	if cfg.Width > model.MaxDimension || cfg.Height > model.MaxDimension {
		return nil, fmt.Errorf("source %dx%d exceeds %d pixels per side: %w",
			cfg.Width, cfg.Height, model.MaxDimension, domain.ErrInvalidArgument)
	}

	var img image.Image
	if format == "webp" {
		img, err = webp.Decode(bytes.NewReader(src), &decoder.Options{})
	} else {
		img, _, err = image.Decode(bytes.NewReader(src))
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", format, err)
	}
	return img, nil
}

func encode(img image.Image, format model.ImageFormat, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	var buf bytes.Buffer
	switch format {
	case model.FormatWebP, "":
		opts, err := encoder.NewLossyEncoderOptions(encoder.PresetDefault, float32(quality))
		if err != nil {
			return nil, fmt.Errorf("webp encoder options: %w", err)
		}
		if err := webp.Encode(&buf, img, opts); err != nil {
			return nil, fmt.Errorf("encode webp: %w", err)
		}
	case model.FormatJPEG:
		if err := jpeg.Encode(&buf, flatten(img, color.White), &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	case model.FormatPNG:
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
	default:
		return nil, fmt.Errorf("output format %q: %w", format, domain.ErrUnsupportedFormat)
	}
	return buf.Bytes(), nil
}

// layout maps region onto a w x h canvas. Cover crops region around its
// centre to the target aspect and fills the canvas; contain scales the whole
// region inside the canvas and centres it.
func layout(region image.Rectangle, w, h int, fit model.FitMode) (src, dst image.Rectangle) {
	sw, sh := float64(region.Dx()), float64(region.Dy())
	tw, th := float64(w), float64(h)

	if fit == model.FitCover {
		scale := math.Max(tw/sw, th/sh)
		cw := clamp(int(math.Round(tw/scale)), 1, region.Dx())
		ch := clamp(int(math.Round(th/scale)), 1, region.Dy())
		x0 := region.Min.X + (region.Dx()-cw)/2
		y0 := region.Min.Y + (region.Dy()-ch)/2
		return image.Rect(x0, y0, x0+cw, y0+ch), image.Rect(0, 0, w, h)
	}

	scale := math.Min(tw/sw, th/sh)
	dw := clamp(int(math.Round(sw*scale)), 1, w)
	dh := clamp(int(math.Round(sh*scale)), 1, h)
	x0 := (w - dw) / 2
	y0 := (h - dh) / 2
	return region, image.Rect(x0, y0, x0+dw, y0+dh)
}

func extractRect(bounds image.Rectangle, c model.CropRegion) (image.Rectangle, error) {
	if !c.Valid() {
		return image.Rectangle{}, fmt.Errorf("extract region %+v: %w", c, domain.ErrInvalidArgument)
	}
	r := image.Rect(c.X, c.Y, c.X+c.Width, c.Y+c.Height).Add(bounds.Min).Intersect(bounds)
	if r.Empty() {
		return image.Rectangle{}, fmt.Errorf("extract region %+v outside %v: %w", c, bounds.Size(), domain.ErrInvalidArgument)
	}
	return r, nil
}

// parseBackground accepts #rgb or #rrggbb. nil means transparent.
func parseBackground(s *string) (color.Color, error) {
	if s == nil {
		return color.Transparent, nil
	}
	hex := strings.TrimPrefix(strings.TrimSpace(*s), "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return nil, fmt.Errorf("background %q: %w", *s, domain.ErrInvalidArgument)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return nil, fmt.Errorf("background %q: %w", *s, domain.ErrInvalidArgument)
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}

func flatten(img image.Image, bg color.Color) image.Image {
	out := image.NewRGBA(img.Bounds())
	draw.Draw(out, out.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)
	draw.Draw(out, out.Bounds(), img, img.Bounds().Min, draw.Over)
	return out
}

func hasAlpha(m color.Model) bool {
	switch m {
	case color.RGBAModel, color.RGBA64Model, color.NRGBAModel, color.NRGBA64Model,
		color.AlphaModel, color.Alpha16Model, color.NYCbCrAModel:
		return true
	}
	if p, ok := m.(color.Palette); ok {
		for _, c := range p {
			if _, _, _, a := c.RGBA(); a < 0xffff {
				return true
			}
		}
	}
	return false
}

func colorSpace(m color.Model) string {
	switch m {
	case color.GrayModel, color.Gray16Model:
		return "b-w"
	case color.CMYKModel:
		return "cmyk"
	}
	return "srgb"
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
