package data

import "testing"

func TestMapDataContext_Get(t *testing.T) {
	tests := []struct {
		name      string
		dc        *MapDataContext
		key       DependencyKey
		wantOK    bool
		wantValue any
	}{
		{
			name:      "nil receiver returns not found",
			dc:        nil,
			key:       DepServiceRoot,
			wantOK:    false,
			wantValue: nil,
		},
		{
			name:      "nil map treated as empty",
			dc:        NewMapDataContext(nil),
			key:       DepServiceRoot,
			wantOK:    false,
			wantValue: nil,
		},
		{
			name:      "missing key returns not found",
			dc:        NewMapDataContext(map[DependencyKey]any{}),
			key:       DepServiceRoot,
			wantOK:    false,
			wantValue: nil,
		},
		{
			name: "present key returns value",
			dc: NewMapDataContext(map[DependencyKey]any{
				DepServiceRoot: "value",
			}),
			key:       DepServiceRoot,
			wantOK:    true,
			wantValue: "value",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.dc.Get(tt.key)
			if ok != tt.wantOK {
				t.Fatalf("expected ok=%v, got %v", tt.wantOK, ok)
			}
			if got != tt.wantValue {
				t.Fatalf("expected value=%v, got %v", tt.wantValue, got)
			}
		})
	}
}

func TestTrackingDataContext_Undeclared(t *testing.T) {
	tests := []struct {
		name     string
		read     []DependencyKey
		declared []DependencyKey
		want     []DependencyKey
	}{
		{"nothing read", nil, []DependencyKey{DepServiceRoot}, nil},
		{"declared read", []DependencyKey{DepServiceRoot}, []DependencyKey{DepServiceRoot}, nil},
		{"implicit version", []DependencyKey{DepServiceVersion}, nil, nil},
		{
			name:     "undeclared metadata",
			read:     []DependencyKey{DepServiceMetadata, DepServiceRoot, DepServiceVersion},
			declared: []DependencyKey{DepServiceRoot},
			want:     []DependencyKey{DepServiceMetadata},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dc := NewTrackingDataContext(NewMapDataContext(nil))
			for _, k := range tt.read {
				dc.Get(k)
			}
			got := dc.Undeclared(tt.declared)
			if len(got) != len(tt.want) {
				t.Fatalf("Undeclared() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("Undeclared() = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestTrackingDataContext_NilInner(t *testing.T) {
	dc := NewTrackingDataContext(nil)
	if _, ok := dc.Get(DepServiceRoot); ok {
		t.Fatal("expected miss with nil inner context")
	}
	if got := dc.AccessedKeys(); len(got) != 1 || got[0] != DepServiceRoot {
		t.Fatalf("AccessedKeys() = %v", got)
	}
}
