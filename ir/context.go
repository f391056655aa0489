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

package ir

import "fmt"

// Context interns identifiers as dense symbol ids. Ids are stable for the
// lifetime of the context.
type Context struct {
	names []string
	ids   map[string]Symbol
}

// NewContext returns an empty context.
func NewContext() *Context {
	return &Context{ids: make(map[string]Symbol)}
}

// Insert interns a name, returning its symbol. Inserting the same name
// twice returns the same symbol.
func (c *Context) Insert(name string) Symbol {
	if sym, ok := c.ids[name]; ok {
		return sym
	}
	sym := Symbol(len(c.names))
	c.names = append(c.names, name)
	c.ids[name] = sym
	return sym
}

// InsertUnique returns a fresh symbol with a synthesized name.
func (c *Context) InsertUnique() Symbol {
	name := fmt.Sprintf("_%d", len(c.names))
	for {
		if _, taken := c.ids[name]; !taken {
			break
		}
		name = "_" + name
	}
	return c.Insert(name)
}

// Name returns the identifier of a symbol.
func (c *Context) Name(sym Symbol) string {
	if int(sym) < 0 || int(sym) >= len(c.names) {
		return fmt.Sprintf("<%d>", sym)
	}
	return c.names[sym]
}

// Lookup returns the symbol of an identifier, if it is interned.
func (c *Context) Lookup(name string) (Symbol, bool) {
	sym, ok := c.ids[name]
	return sym, ok
}

// SymbolMap is a vector-backed partial function from symbol to T. Lookup
// outside the populated range returns unset.
type SymbolMap[T any] struct {
	entries []symbolEntry[T]
}

type symbolEntry[T any] struct {
	value   T
	present bool
}

// Get returns the value bound to sym, if any.
func (m *SymbolMap[T]) Get(sym Symbol) (T, bool) {
	if int(sym) < 0 || int(sym) >= len(m.entries) {
		var zero T
		return zero, false
	}
	e := m.entries[sym]
	return e.value, e.present
}

// GetOr returns the value bound to sym, or def when unset.
func (m *SymbolMap[T]) GetOr(sym Symbol, def T) T {
	if v, ok := m.Get(sym); ok {
		return v
	}
	return def
}

// Contains returns true if sym is bound.
func (m *SymbolMap[T]) Contains(sym Symbol) bool {
	_, ok := m.Get(sym)
	return ok
}

func (m *SymbolMap[T]) grow(sym Symbol) {
	for int(sym) >= len(m.entries) {
		m.entries = append(m.entries, symbolEntry[T]{})
	}
}

// Set binds sym to v.
func (m *SymbolMap[T]) Set(sym Symbol, v T) {
	m.grow(sym)
	m.entries[sym] = symbolEntry[T]{value: v, present: true}
}

// Unset removes the binding of sym.
func (m *SymbolMap[T]) Unset(sym Symbol) {
	if int(sym) < len(m.entries) {
		m.entries[sym] = symbolEntry[T]{}
	}
}

// Len returns the size of the populated range. Symbols >= Len are unset.
func (m *SymbolMap[T]) Len() int { return len(m.entries) }

// ForEach calls f for every bound symbol in increasing order.
func (m *SymbolMap[T]) ForEach(f func(Symbol, T)) {
	for i := range m.entries {
		if m.entries[i].present {
			f(Symbol(i), m.entries[i].value)
		}
	}
}

// Update calls f with the current binding of sym and stores the result.
func (m *SymbolMap[T]) Update(sym Symbol, f func(T, bool) T) {
	v, ok := m.Get(sym)
	m.Set(sym, f(v, ok))
}

// Bind binds sym to v for a lexical region and returns a function that
// restores the previous binding. Callers must defer the restore so it runs
// on every exit path.
func (m *SymbolMap[T]) Bind(sym Symbol, v T) (restore func()) {
	old, present := m.Get(sym)
	m.Set(sym, v)
	return func() {
		if present {
			m.entries[sym] = symbolEntry[T]{value: old, present: true}
		} else {
			m.entries[sym] = symbolEntry[T]{}
		}
	}
}

// Forget unbinds sym for a lexical region and returns a function that
// restores the previous binding.
func (m *SymbolMap[T]) Forget(sym Symbol) (restore func()) {
	old, present := m.Get(sym)
	m.Unset(sym)
	return func() {
		if present {
			m.Set(sym, old)
		}
	}
}
