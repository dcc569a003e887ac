package httpapi

import (
	"strings"
	"testing"
)

func TestReadSSE_ParsesJSONFrames(t *testing.T) {
	body := "data: {\"type\":\"token\",\"content\":\"a\"}\n\n" +
		": keepalive comment\n" +
		"data: {\"type\":\"done\"}\n\n"
	var got []Event
	for ev := range readSSE(strings.NewReader(body)) {
		got = append(got, ev)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d: %+v", len(got), got)
	}
	if got[0].Type != "token" || got[0].Content != "a" {
		t.Fatalf("unexpected first event %+v", got[0])
	}
	if got[1].Type != "done" {
		t.Fatalf("unexpected second event %+v", got[1])
	}
}

func TestReadSSE_NonJSONDataSurfacesAsMessage(t *testing.T) {
	var got []Event
	for ev := range readSSE(strings.NewReader("data: plain text line\n\n")) {
		got = append(got, ev)
	}
	if len(got) != 1 || got[0].Type != "message" || got[0].Content != "plain text line" {
		t.Fatalf("unexpected events %+v", got)
	}
}

func TestReadSSE_MultilineData(t *testing.T) {
	var got []Event
	for ev := range readSSE(strings.NewReader("data: line one\ndata: line two\n\n")) {
		got = append(got, ev)
	}
	if len(got) != 1 || got[0].Content != "line one\nline two" {
		t.Fatalf("unexpected events %+v", got)
	}
}
