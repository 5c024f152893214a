package adapter

import (
	"context"
	"fmt"
	"strings"
)

// Funcs adapts plain functions to DataSource, UpdateSource and
// DeleteSource. Every required function must be set; the update and
// delete pairs are optional but must be set together.
type Funcs struct {
	LatestExternalIDFunc   func(ctx context.Context) (int64, error)
	RecordsFunc            func(ctx context.Context, from, to int64) ([]Record, error)
	InsertFunc             func(ctx context.Context, rec Record, id int64) error
	UpdateFunc             func(ctx context.Context, rec Record) error
	DeleteFunc             func(ctx context.Context, rec Record) error
	DecideUpdateFunc       func(ctx context.Context, incoming Record) (bool, error)
	DecideDeleteFunc       func(ctx context.Context, incoming Record) (bool, error)
	FetchPendingInsertFunc func(ctx context.Context) (*Record, error)
	AfterInsertFunc        func(ctx context.Context, rec Record, id int64) error

	FetchPendingUpdateFunc func(ctx context.Context) (*Record, error)
	AfterUpdateFunc        func(ctx context.Context, rec Record) error
	FetchPendingDeleteFunc func(ctx context.Context) (*Record, error)
	AfterDeleteFunc        func(ctx context.Context, rec Record) error
}

var _ DataSource = (*Funcs)(nil)
var _ UpdateSource = (*Funcs)(nil)
var _ DeleteSource = (*Funcs)(nil)

// Validate reports every missing required function.
func (f *Funcs) Validate() error {
	var missing []string
	required := []struct {
		name string
		set  bool
	}{
		{"LatestExternalID", f.LatestExternalIDFunc != nil},
		{"Records", f.RecordsFunc != nil},
		{"Insert", f.InsertFunc != nil},
		{"Update", f.UpdateFunc != nil},
		{"Delete", f.DeleteFunc != nil},
		{"DecideUpdate", f.DecideUpdateFunc != nil},
		{"DecideDelete", f.DecideDeleteFunc != nil},
		{"FetchPendingInsert", f.FetchPendingInsertFunc != nil},
		{"AfterInsert", f.AfterInsertFunc != nil},
	}
	for _, r := range required {
		if !r.set {
			missing = append(missing, r.name)
		}
	}
	if (f.FetchPendingUpdateFunc == nil) != (f.AfterUpdateFunc == nil) {
		missing = append(missing, "FetchPendingUpdate/AfterUpdate pair")
	}
	if (f.FetchPendingDeleteFunc == nil) != (f.AfterDeleteFunc == nil) {
		missing = append(missing, "FetchPendingDelete/AfterDelete pair")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing capabilities: %s", strings.Join(missing, ", "))
	}
	return nil
}

// HasUpdates reports whether the update pair is set.
func (f *Funcs) HasUpdates() bool {
	return f.FetchPendingUpdateFunc != nil && f.AfterUpdateFunc != nil
}

// HasDeletes reports whether the delete pair is set.
func (f *Funcs) HasDeletes() bool {
	return f.FetchPendingDeleteFunc != nil && f.AfterDeleteFunc != nil
}

func (f *Funcs) LatestExternalID(ctx context.Context) (int64, error) {
	return f.LatestExternalIDFunc(ctx)
}

func (f *Funcs) Records(ctx context.Context, from, to int64) ([]Record, error) {
	return f.RecordsFunc(ctx, from, to)
}

func (f *Funcs) Insert(ctx context.Context, rec Record, id int64) error {
	return f.InsertFunc(ctx, rec, id)
}

func (f *Funcs) Update(ctx context.Context, rec Record) error {
	return f.UpdateFunc(ctx, rec)
}

func (f *Funcs) Delete(ctx context.Context, rec Record) error {
	return f.DeleteFunc(ctx, rec)
}

func (f *Funcs) DecideUpdate(ctx context.Context, incoming Record) (bool, error) {
	return f.DecideUpdateFunc(ctx, incoming)
}

func (f *Funcs) DecideDelete(ctx context.Context, incoming Record) (bool, error) {
	return f.DecideDeleteFunc(ctx, incoming)
}

func (f *Funcs) FetchPendingInsert(ctx context.Context) (*Record, error) {
	return f.FetchPendingInsertFunc(ctx)
}

func (f *Funcs) AfterInsert(ctx context.Context, rec Record, id int64) error {
	return f.AfterInsertFunc(ctx, rec, id)
}

func (f *Funcs) FetchPendingUpdate(ctx context.Context) (*Record, error) {
	return f.FetchPendingUpdateFunc(ctx)
}

func (f *Funcs) AfterUpdate(ctx context.Context, rec Record) error {
	return f.AfterUpdateFunc(ctx, rec)
}

func (f *Funcs) FetchPendingDelete(ctx context.Context) (*Record, error) {
	return f.FetchPendingDeleteFunc(ctx)
}

func (f *Funcs) AfterDelete(ctx context.Context, rec Record) error {
	return f.AfterDeleteFunc(ctx, rec)
}
