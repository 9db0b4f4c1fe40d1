package service

import (
	"context"
	stderrors "errors"
	"testing"

	"BulkSMS/internal/model"
	"BulkSMS/pkg/errors"
)

func TestResolveStreamBatches(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		total, batch, wantBatches int
	}{
		{10, 3, 4},
		{9, 3, 3},
		{1, 1000, 1},
		{0, 5, 0},
	}
	for _, tt := range tests {
		store := newMemStore()
		store.addContacts(1, tt.total, model.GenderFemale)
		svc := NewAudienceService(memContacts{store})

		eager, err := svc.ResolveEager(ctx, 1, model.AllOptedIn())
		if err != nil {
			t.Fatalf("ResolveEager: %v", err)
		}

		stream := svc.ResolveStream(1, model.AllOptedIn(), tt.batch)
		var streamed []model.AudienceMember
		batches := 0
		for stream.Next(ctx) {
			if len(stream.Batch()) > tt.batch {
				t.Errorf("batch of %d exceeds %d", len(stream.Batch()), tt.batch)
			}
			streamed = append(streamed, stream.Batch()...)
			batches++
		}
		if err := stream.Err(); err != nil {
			t.Fatalf("stream error: %v", err)
		}
		if batches != tt.wantBatches {
			t.Errorf("total=%d batch=%d: got %d batches, want %d", tt.total, tt.batch, batches, tt.wantBatches)
		}
		if len(streamed) != len(eager) {
			t.Fatalf("stream yielded %d members, eager %d", len(streamed), len(eager))
		}
		for i := range eager {
			if streamed[i] != eager[i] {
				t.Errorf("member %d differs: %+v vs %+v", i, streamed[i], eager[i])
			}
		}
		if stream.Next(ctx) {
			t.Errorf("exhausted stream yielded again")
		}
	}
}

func TestAudienceSelectors(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	women := store.addContacts(1, 3, model.GenderFemale)
	store.addContacts(1, 2, model.GenderMale)
	other := store.addContacts(2, 4, model.GenderFemale)
	store.addSegment(10, 1, women[0], women[1])
	store.addSegment(20, 2, other...)

	svc := NewAudienceService(memContacts{store})

	tests := []struct {
		name string
		sel  model.AudienceSelector
		want int64
	}{
		{"all", model.AllOptedIn(), 5},
		{"gender", model.ForGenders(model.GenderFemale), 3},
		{"own segment", model.ForSegment(10), 2},
		{"foreign segment", model.ForSegment(20), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.Count(ctx, 1, tt.sel)
			if err != nil {
				t.Fatalf("Count: %v", err)
			}
			if got != tt.want {
				t.Errorf("Count = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAudienceRejectsInvalidSelector(t *testing.T) {
	svc := NewAudienceService(memContacts{newMemStore()})

	if _, err := svc.Count(context.Background(), 1, model.AudienceSelector{Kind: model.AudienceGender}); !stderrors.Is(err, errors.InvalidSelector) {
		t.Errorf("Count = %v, want InvalidSelector", err)
	}

	stream := svc.ResolveStream(1, model.ForSegment(0), 10)
	if stream.Next(context.Background()) {
		t.Errorf("invalid selector should not yield")
	}
	if !stderrors.Is(stream.Err(), errors.InvalidSelector) {
		t.Errorf("stream.Err() = %v", stream.Err())
	}
}
