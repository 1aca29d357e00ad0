package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func testPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test png: %v", err)
	}
	return buf.Bytes()
}

func TestEncodeProducesJPEG(t *testing.T) {
	raw := testPNG(t, 64, 48)
	result, err := Encode(raw, ProfileBalanced)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(result.Data) == 0 {
		t.Fatal("empty output")
	}
	decoded, format, err := image.Decode(bytes.NewReader(result.Data))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if format != "jpeg" {
		t.Fatalf("format = %s, want jpeg", format)
	}
	if decoded.Bounds().Dx() != 64 {
		t.Fatalf("balanced profile should keep dimensions, got %v", decoded.Bounds())
	}
	if result.BytesIn != len(raw) || result.BytesOut != len(result.Data) {
		t.Fatalf("size accounting wrong: %+v", result)
	}
}

func TestEncodeSmallProfilesDownscale(t *testing.T) {
	raw := testPNG(t, 1600, 1200)
	result, err := Encode(raw, ProfileMinimumSize)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, _, err := image.Decode(bytes.NewReader(result.Data))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	bounds := decoded.Bounds()
	if bounds.Dx() > 900 || bounds.Dy() > 900 {
		t.Fatalf("minimum_size did not downscale: %v", bounds)
	}
}

func TestEncodeRejectsGarbage(t *testing.T) {
	if _, err := Encode([]byte("not an image"), ProfileBalanced); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestParseProfile(t *testing.T) {
	if profile, err := ParseProfile(""); err != nil || profile != ProfileBalanced {
		t.Fatalf("empty name: %v %v", profile, err)
	}
	if profile, err := ParseProfile("high_quality"); err != nil || profile != ProfileHighQuality {
		t.Fatalf("high_quality: %v %v", profile, err)
	}
	if _, err := ParseProfile("ultra"); err == nil {
		t.Fatal("unknown profile accepted")
	}
}
