package embed

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
)

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})
	norm := math.Sqrt(float64(v[0])*float64(v[0]) + float64(v[1])*float64(v[1]))
	if math.Abs(norm-1) > 1e-6 {
		t.Fatalf("expected unit length, got %f", norm)
	}

	zero := Normalize([]float32{0, 0, 0})
	for _, x := range zero {
		if x != 0 {
			t.Fatalf("zero vector must stay zero, got %v", zero)
		}
	}
}

func TestDot(t *testing.T) {
	if got := Dot([]float32{1, 0}, []float32{1, 0}); got != 1 {
		t.Fatalf("identical unit vectors: got %f, want 1", got)
	}
	if got := Dot([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Fatalf("orthogonal vectors: got %f, want 0", got)
	}
	if got := Dot([]float32{1, 0}, []float32{1}); got != 0 {
		t.Fatalf("dimension mismatch must score 0, got %f", got)
	}
}

func TestBlobRoundTrip(t *testing.T) {
	v := []float32{0.25, -1.5, 3.75}
	got := BlobToVector(VectorToBlob(v))
	if len(got) != len(v) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(v))
	}
	for i := range v {
		if got[i] != v[i] {
			t.Fatalf("index %d: got %f, want %f", i, got[i], v[i])
		}
	}

	if BlobToVector([]byte{1, 2, 3}) != nil {
		t.Fatal("truncated blob must decode to nil")
	}
}

type countingProvider struct {
	dim int
}

func (p countingProvider) Embed(_ context.Context, _ string) ([]float32, error) {
	return make([]float32, p.dim), nil
}

func (p countingProvider) Dimension() int { return p.dim }

func TestLazySingleFlight(t *testing.T) {
	var constructs atomic.Int32
	l := NewLazy(8, func() (Provider, error) {
		constructs.Add(1)
		return countingProvider{dim: 8}, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Embed(context.Background(), "hello"); err != nil {
				t.Errorf("embed failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := constructs.Load(); n != 1 {
		t.Fatalf("expected one construction, got %d", n)
	}
}

func TestLazyLoadFailureSticks(t *testing.T) {
	var constructs atomic.Int32
	l := NewLazy(8, func() (Provider, error) {
		constructs.Add(1)
		return nil, errors.New("no weights on disk")
	})

	for i := 0; i < 3; i++ {
		_, err := l.Embed(context.Background(), "hello")
		if !errors.Is(err, ErrModelUnavailable) {
			t.Fatalf("call %d: got %v, want ErrModelUnavailable", i, err)
		}
	}
	if n := constructs.Load(); n != 1 {
		t.Fatalf("failed load must not retry construction, got %d attempts", n)
	}

	if l.Dimension() != 8 {
		t.Fatalf("dimension must be reportable without a loaded model")
	}
}
