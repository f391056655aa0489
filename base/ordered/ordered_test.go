// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ordered

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMapOrder(t *testing.T) {
	m := NewMap[string, int]()
	m.Store("c", 3)
	m.Store("a", 1)
	m.Store("b", 2)
	m.Store("a", 4)

	var keys []string
	var values []int
	for k, v := range m.Iter() {
		keys = append(keys, k)
		values = append(values, v)
	}
	if diff := cmp.Diff([]string{"c", "a", "b"}, keys); diff != "" {
		t.Errorf("unexpected key order (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{3, 4, 2}, values); diff != "" {
		t.Errorf("unexpected values (-want +got):\n%s", diff)
	}
	if m.Size() != 3 {
		t.Errorf("Size() = %d, want 3", m.Size())
	}
	if v, ok := m.Load("a"); !ok || v != 4 {
		t.Errorf("Load(a) = %d, %v", v, ok)
	}
	if !m.Contains("b") || m.Contains("d") {
		t.Error("Contains misreported membership")
	}
}

func TestSetOrder(t *testing.T) {
	s := NewSet(3, 1, 2, 3)
	other := NewSet(5, 1)
	s.AddAll(other)

	var got []int
	for el := range s.Iter() {
		got = append(got, el)
	}
	if diff := cmp.Diff([]int{3, 1, 2, 5}, got); diff != "" {
		t.Errorf("unexpected element order (-want +got):\n%s", diff)
	}
	if !s.Contains(5) || s.Contains(4) {
		t.Error("Contains misreported membership")
	}
	if s.Size() != 4 {
		t.Errorf("Size() = %d, want 4", s.Size())
	}
}
