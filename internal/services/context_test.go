package services_test

import (
	"context"
	"testing"

	"folio/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithBook(ctx, "/books/atlas")
	ctx = services.WithPageID(ctx, 42)
	ctx = services.WithJobID(ctx, "job-7")
	ctx = services.WithRequestID(ctx, "req-123")

	if book, ok := services.BookFromContext(ctx); !ok || book != "/books/atlas" {
		t.Fatalf("unexpected book: %v %v", book, ok)
	}
	if id, ok := services.PageIDFromContext(ctx); !ok || id != 42 {
		t.Fatalf("unexpected page id: %v %v", id, ok)
	}
	if job, ok := services.JobIDFromContext(ctx); !ok || job != "job-7" {
		t.Fatalf("unexpected job id: %v %v", job, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithBook(ctx, "")
	ctx = services.WithJobID(ctx, "")
	if _, ok := services.BookFromContext(ctx); ok {
		t.Fatal("expected no book value")
	}
	if _, ok := services.JobIDFromContext(ctx); ok {
		t.Fatal("expected no job value")
	}
	if _, ok := services.PageIDFromContext(ctx); ok {
		t.Fatal("expected no page value")
	}
}
