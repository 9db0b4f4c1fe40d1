package model

import (
	stderrors "errors"
	"strings"
	"testing"

	"BulkSMS/pkg/errors"
)

func TestParseAudienceSelector(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{raw: "all", want: "all"},
		{raw: " ALL ", want: "all"},
		{raw: "gender:male,female", want: "gender:female,male"},
		{raw: "segment:42", want: "segment:42"},
		{raw: "segment:0", wantErr: true},
		{raw: "segment:abc", wantErr: true},
		{raw: "gender:", wantErr: true},
		{raw: "gender:robot", wantErr: true},
		{raw: "all:1", wantErr: true},
		{raw: "vip", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			sel, err := ParseAudienceSelector(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q, got %v", tt.raw, sel)
				}
				if !stderrors.Is(err, errors.InvalidSelector) {
					t.Fatalf("expected InvalidSelector, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := sel.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAudienceSelectorScanRoundTrip(t *testing.T) {
	in := ForSegment(9)
	v, err := in.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}

	var out AudienceSelector
	if err := out.Scan(v); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if out.Kind != AudienceSegment || out.SegmentID != 9 {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

func TestCampaignTransitions(t *testing.T) {
	tests := []struct {
		from, to CampaignStatus
		ok       bool
	}{
		{CampaignStatusDraft, CampaignStatusSending, true},
		{CampaignStatusScheduled, CampaignStatusDraft, true},
		{CampaignStatusSending, CampaignStatusSent, true},
		{CampaignStatusSending, CampaignStatusDraft, true},
		{CampaignStatusSent, CampaignStatusSending, false},
		{CampaignStatusCancelled, CampaignStatusDraft, false},
		{CampaignStatusScheduled, CampaignStatusSending, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.ok {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}

	c := Campaign{Status: CampaignStatusSending}
	if c.IsEditable() {
		t.Errorf("sending campaign must not be editable")
	}
}

func TestEncodeDecodeJob(t *testing.T) {
	contactID := int64(7)
	data, err := EncodeJob("m-1", SendMessageJob{
		StoreID:    1,
		CampaignID: 2,
		ContactID:  &contactID,
		Phone:      "+14155550100",
		Body:       "hi",
	})
	if err != nil {
		t.Fatalf("EncodeJob: %v", err)
	}

	env, job, err := DecodeJob(data)
	if err != nil {
		t.Fatalf("DecodeJob: %v", err)
	}
	if env.MessageID != "m-1" || env.Kind != JobKindSendMessage {
		t.Fatalf("unexpected envelope %+v", env)
	}
	send, ok := job.(SendMessageJob)
	if !ok {
		t.Fatalf("expected SendMessageJob, got %T", job)
	}
	if send.Phone != "+14155550100" || send.ContactID == nil || *send.ContactID != 7 {
		t.Fatalf("payload mismatch: %+v", send)
	}
}

func TestDecodeJobRejectsBadPayloads(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want errors.Definition
	}{
		{"not json", `{`, errors.InvalidJobPayload},
		{"unknown kind", `{"kind":"explode","payload":{}}`, errors.UnknownJobKind},
		{"missing payload", `{"kind":"send_message"}`, errors.InvalidJobPayload},
		{"missing fields", `{"kind":"send_message","payload":{"store_id":1}}`, errors.InvalidJobPayload},
		{"bad state", `{"kind":"update_delivery_status","payload":{"provider_message_id":"x","state":"lost"}}`, errors.InvalidJobPayload},
		{"empty bulk", `{"kind":"bulk_update_delivery_status","payload":{"provider_message_ids":[]}}`, errors.InvalidJobPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DecodeJob([]byte(tt.raw))
			if !stderrors.Is(err, tt.want) {
				t.Fatalf("expected %s, got %v", tt.want.Code, err)
			}
		})
	}
}

func TestEncodeJobValidates(t *testing.T) {
	_, err := EncodeJob("m", BulkUpdateDeliveryStatusJob{ProviderMessageIDs: []string{"a", ""}})
	if err == nil || !strings.Contains(err.Error(), "Invalid job payload") {
		t.Fatalf("expected validation failure, got %v", err)
	}
}

func TestUsablePhoneMatchesJobSchema(t *testing.T) {
	for _, phone := range []string{"", "+14155552671", "4155552671", strings.Repeat("1", 32), strings.Repeat("1", 33)} {
		job := SendMessageJob{StoreID: 1, CampaignID: 1, Phone: phone, Body: "Hi", Attempt: 1}
		_, err := EncodeJob("m", job)
		if got := UsablePhone(phone); got != (err == nil) {
			t.Errorf("UsablePhone(%q) = %v, EncodeJob err = %v", phone, got, err)
		}
	}
	if UsablePhone("   ") {
		t.Errorf("blank phone reported usable")
	}
}

func TestRefundKey(t *testing.T) {
	if got := RefundKey(3, "campaign:1"); got != "refund:3:campaign:1" {
		t.Fatalf("RefundKey = %q", got)
	}
}
