package intake

import (
	"bytes"
	"errors"
	"testing"

	"go.uber.org/zap"
)

var (
	pngMagic  = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	jpegMagic = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}
)

func TestAcceptValidTypes(t *testing.T) {
	in := New(1024, zap.NewNop())

	cases := []struct {
		name     string
		declared string
		want     string
	}{
		{name: "jpeg", declared: "image/jpeg", want: MIMETypeJPEG},
		{name: "png", declared: "image/png", want: MIMETypePNG},
		{name: "jpg alias", declared: "image/jpg", want: MIMETypeJPEG},
		{name: "params and case", declared: "IMAGE/PNG; charset=binary", want: MIMETypePNG},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			file, err := in.Accept(SourceBrowse, Candidate{Name: "a", DeclaredType: tc.declared, Data: []byte("data")})
			if err != nil {
				t.Fatalf("expected acceptance, got error: %v", err)
			}
			if file.MIMEType != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, file.MIMEType)
			}
			if file.Source != SourceBrowse {
				t.Fatalf("unexpected source: %s", file.Source)
			}
		})
	}
}

func TestAcceptRejectsGIF(t *testing.T) {
	in := New(0, zap.NewNop())

	file, err := in.Accept(SourceDrop, Candidate{Name: "cat.gif", DeclaredType: "image/gif", Data: []byte("GIF89a")})
	if !errors.Is(err, ErrInvalidFileType) {
		t.Fatalf("expected ErrInvalidFileType, got %v", err)
	}
	if file != nil {
		t.Fatalf("expected no file, got %+v", file)
	}
}

func TestAcceptSniffsWhenTypeMissing(t *testing.T) {
	in := New(0, zap.NewNop())

	file, err := in.Accept(SourceDrop, Candidate{Name: "upload", DeclaredType: "application/octet-stream", Data: pngMagic})
	if err != nil {
		t.Fatalf("expected acceptance, got error: %v", err)
	}
	if file.MIMEType != MIMETypePNG {
		t.Fatalf("expected sniffed png, got %s", file.MIMEType)
	}

	file, err = in.Accept(SourceDrop, Candidate{Name: "upload", Data: jpegMagic})
	if err != nil {
		t.Fatalf("expected acceptance, got error: %v", err)
	}
	if file.MIMEType != MIMETypeJPEG {
		t.Fatalf("expected sniffed jpeg, got %s", file.MIMEType)
	}

	if _, err := in.Accept(SourceDrop, Candidate{Name: "notes", Data: []byte("plain text")}); !errors.Is(err, ErrInvalidFileType) {
		t.Fatalf("expected ErrInvalidFileType for sniffed text, got %v", err)
	}
}

func TestAcceptKeepsOnlyFirstCandidate(t *testing.T) {
	in := New(0, zap.NewNop())

	file, err := in.Accept(SourceDrop,
		Candidate{Name: "first.png", DeclaredType: MIMETypePNG, Data: []byte("first")},
		Candidate{Name: "second.jpg", DeclaredType: MIMETypeJPEG, Data: []byte("second")},
	)
	if err != nil {
		t.Fatalf("expected acceptance, got error: %v", err)
	}
	if file.Name != "first.png" || !bytes.Equal(file.Data, []byte("first")) {
		t.Fatalf("expected first candidate, got %s", file.Name)
	}

	_, err = in.Accept(SourceDrop,
		Candidate{Name: "first.gif", DeclaredType: "image/gif", Data: []byte("gif")},
		Candidate{Name: "second.png", DeclaredType: MIMETypePNG, Data: []byte("png")},
	)
	if !errors.Is(err, ErrInvalidFileType) {
		t.Fatalf("expected extras to be ignored even when valid, got %v", err)
	}
}

func TestAcceptIdentityIsPerAcceptance(t *testing.T) {
	in := New(0, zap.NewNop())
	c := Candidate{Name: "same.png", DeclaredType: MIMETypePNG, Data: []byte("same")}

	a, err := in.Accept(SourceBrowse, c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := in.Accept(SourceBrowse, c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.ID == b.ID {
		t.Fatal("expected distinct identities for repeated acceptance")
	}
}

func TestAcceptRejectsEmptyMissingAndOversized(t *testing.T) {
	in := New(4, zap.NewNop())

	if _, err := in.Accept(SourceBrowse); !errors.Is(err, ErrNoFile) {
		t.Fatalf("expected ErrNoFile, got %v", err)
	}
	if _, err := in.Accept(SourceBrowse, Candidate{DeclaredType: MIMETypePNG}); !errors.Is(err, ErrEmptyFile) {
		t.Fatalf("expected ErrEmptyFile, got %v", err)
	}
	_, err := in.Accept(SourceBrowse, Candidate{DeclaredType: MIMETypePNG, Data: []byte("12345")})
	if !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("expected ErrFileTooLarge, got %v", err)
	}
}

func TestParseSource(t *testing.T) {
	if ParseSource(" Drop ") != SourceDrop {
		t.Fatal("expected drop")
	}
	if ParseSource("") != SourceBrowse || ParseSource("paste") != SourceBrowse {
		t.Fatal("expected browse default")
	}
}
