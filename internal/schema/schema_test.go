package schema

import (
	"encoding/json"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestHistoryLog_Push(t *testing.T) {
	tests := []struct {
		name  string
		start HistoryLog
		query string
		limit int
		want  HistoryLog
	}{
		{
			name:  "empty log",
			start: nil,
			query: "solo",
			limit: 10,
			want:  HistoryLog{"solo"},
		},
		{
			name:  "resubmitted query moves to front",
			start: HistoryLog{"ar", "solo", "água"},
			query: "solo",
			limit: 10,
			want:  HistoryLog{"solo", "ar", "água"},
		},
		{
			name:  "bounded to limit",
			start: HistoryLog{"a1", "a2", "a3"},
			query: "new",
			limit: 3,
			want:  HistoryLog{"new", "a1", "a2"},
		},
		{
			name:  "default limit",
			start: HistoryLog{"1", "2", "3", "4", "5", "6", "7", "8", "9", "10"},
			query: "11",
			limit: 0,
			want:  HistoryLog{"11", "1", "2", "3", "4", "5", "6", "7", "8", "9"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.start.Push(tt.query, tt.limit)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Push() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMergeHistory(t *testing.T) {
	anon := HistoryLog{"erosão", "solo"}
	user := HistoryLog{"solo", "ar", "clima"}

	got := MergeHistory(3, anon, user)
	want := HistoryLog{"erosão", "solo", "ar"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("MergeHistory() = %v, want %v", got, want)
	}
}

func TestFavoriteSet(t *testing.T) {
	s := NewFavoriteSet("Água", "Solo", "Água", "")
	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}
	if !s.Contains("Solo") {
		t.Error("expected Solo in set")
	}
	if s.Add("Solo") {
		t.Error("Add() of existing title should return false")
	}
	if !s.Remove("Água") {
		t.Error("Remove() of present title should return true")
	}
	if s.Remove("Água") {
		t.Error("Remove() of absent title should return false")
	}

	user := NewFavoriteSet("Clima", "Solo")
	anon := NewFavoriteSet("Solo", "Ar")
	union := user.Union(anon)
	if got, want := union.Items(), []string{"Clima", "Solo", "Ar"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Union() = %v, want %v", got, want)
	}
	if got, want := anon.Difference(user), []string{"Ar"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Difference() = %v, want %v", got, want)
	}

	data, err := json.Marshal(union)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(data) != `["Clima","Solo","Ar"]` {
		t.Errorf("Marshal() = %s", data)
	}

	var decoded FavoriteSet
	if err := json.Unmarshal([]byte(`["X","Y","X"]`), &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if decoded.Len() != 2 || !decoded.Contains("Y") {
		t.Errorf("Unmarshal() = %v", decoded.Items())
	}
}

func TestIdentity(t *testing.T) {
	tests := []struct {
		name     string
		identity Identity
		key      string
		anon     bool
	}{
		{name: "anonymous", identity: Anonymous, key: "anon", anon: true},
		{name: "authenticated", identity: Authenticated("u1"), key: "user:u1", anon: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.identity.Key(); got != tt.key {
				t.Errorf("Key() = %q, want %q", got, tt.key)
			}
			if got := tt.identity.IsAnonymous(); got != tt.anon {
				t.Errorf("IsAnonymous() = %v, want %v", got, tt.anon)
			}
			parsed, err := ParseIdentity(tt.key)
			if err != nil {
				t.Fatalf("ParseIdentity() error = %v", err)
			}
			if parsed != tt.identity {
				t.Errorf("ParseIdentity() = %v, want %v", parsed, tt.identity)
			}
		})
	}

	if _, err := ParseIdentity("user:"); err == nil {
		t.Error("expected error for empty user id")
	}
}

func TestSyncAction_Validate(t *testing.T) {
	valid := NewSyncAction(KindFavorite, OpAdd, "Erosão", "u1")

	tests := []struct {
		name    string
		mutate  func(a *SyncAction)
		wantErr string
	}{
		{name: "valid", mutate: func(a *SyncAction) {}},
		{name: "bad id", mutate: func(a *SyncAction) { a.ID = "nope" }, wantErr: "UUID"},
		{name: "bad kind", mutate: func(a *SyncAction) { a.Kind = "profile" }, wantErr: "kind"},
		{name: "bad op", mutate: func(a *SyncAction) { a.Op = "toggle" }, wantErr: "op"},
		{name: "no owner", mutate: func(a *SyncAction) { a.OwnerID = "" }, wantErr: "owner_id"},
		{name: "negative retries", mutate: func(a *SyncAction) { a.RetryCount = -1 }, wantErr: "retry_count"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := valid
			tt.mutate(&a)
			err := a.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestSyncCursor(t *testing.T) {
	var c SyncCursor
	since, err := c.Since()
	if err != nil || !since.IsZero() {
		t.Fatalf("empty cursor Since() = %v, %v", since, err)
	}

	at := time.Date(2024, 3, 5, 10, 30, 0, 0, time.UTC)
	c = c.Advance(at)
	since, err = c.Since()
	if err != nil {
		t.Fatalf("Since() error = %v", err)
	}
	if !since.Equal(at) {
		t.Errorf("Since() = %v, want %v", since, at)
	}
	if c.LastSyncDisplay == "" {
		t.Error("expected LastSyncDisplay to be set")
	}

	bad := SyncCursor{LastSyncISO: "yesterday"}
	if _, err := bad.Since(); err == nil {
		t.Error("expected error for malformed cursor")
	}
}

func TestDeltaFileRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "inbox")
	terms := []Term{
		{Title: "Ar", Definition: "def", Category: "Geral"},
		Tombstone("Água", "2024-01-01"),
	}

	path, err := WriteDeltaFile(dir, "batch", terms)
	if err != nil {
		t.Fatalf("WriteDeltaFile() error = %v", err)
	}
	if filepath.Ext(path) != ".json" {
		t.Errorf("path = %s, want .json suffix", path)
	}

	raw, err := ReadDeltaFile(path)
	if err != nil {
		t.Fatalf("ReadDeltaFile() error = %v", err)
	}
	rows, ok := raw.([]any)
	if !ok || len(rows) != 2 {
		t.Fatalf("ReadDeltaFile() = %#v, want 2 rows", raw)
	}
	second := rows[1].(map[string]any)
	if second["deleted_at"] != "2024-01-01" {
		t.Errorf("tombstone lost: %v", second)
	}
}
