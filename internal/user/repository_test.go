package user

import (
	"testing"
	"time"
)

func TestPictureColumnsRoundTrip(t *testing.T) {
	if got := columnsFor(nil).reference(); got != nil {
		t.Fatalf("nil reference produced %+v", got)
	}

	in := &ProfilePicture{
		Path:       "profile-pictures/2026/10/4b0a6f4e-6a1c-4d3e-9b7a-1f2e3d4c5b6a.jpg",
		URL:        "/api/v1/files/profile-pictures/2026/10/4b0a6f4e-6a1c-4d3e-9b7a-1f2e3d4c5b6a.jpg",
		Filename:   "4b0a6f4e-6a1c-4d3e-9b7a-1f2e3d4c5b6a.jpg",
		UploadedAt: time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC),
	}
	out := columnsFor(in).reference()
	if out == nil || *out != *in {
		t.Fatalf("reference = %+v, want %+v", out, in)
	}
}

func TestPictureColumnsWithoutPathIsNoPicture(t *testing.T) {
	url := "/api/v1/files/x.jpg"
	if got := (pictureColumns{url: &url}).reference(); got != nil {
		t.Fatalf("reference without path = %+v", got)
	}
}
