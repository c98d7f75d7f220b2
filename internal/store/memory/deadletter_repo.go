package memory

import (
	"context"
	"sort"

	"github.com/chainsharp/scheduler/internal/domain/deadletter"
)

type deadLetterRepo struct {
	dc *dataContext
}

func (r *deadLetterRepo) Create(ctx context.Context, d deadletter.DeadLetter) (deadletter.DeadLetter, error) {
	r.dc.withLock(func() {
		r.dc.st.nextDLID++
		d.ID = r.dc.st.nextDLID
		r.dc.st.deadLetters[d.ID] = d
	})
	return d, nil
}

func (r *deadLetterRepo) GetByID(ctx context.Context, id int64) (deadletter.DeadLetter, error) {
	var d deadletter.DeadLetter
	var err error
	r.dc.withLock(func() {
		v, ok := r.dc.st.deadLetters[id]
		if !ok {
			err = deadletter.ErrNotFound
			return
		}
		d = v
	})
	return d, err
}

func (r *deadLetterRepo) GetOpenForManifest(ctx context.Context, manifestID int64) (deadletter.DeadLetter, bool, error) {
	var d deadletter.DeadLetter
	var found bool
	r.dc.withLock(func() {
		for _, v := range r.dc.st.deadLetters {
			if v.ManifestID == manifestID && v.Open() {
				if !found || v.DeadLetteredAt.After(d.DeadLetteredAt) {
					d, found = v, true
				}
			}
		}
	})
	return d, found, nil
}

func (r *deadLetterRepo) Update(ctx context.Context, d deadletter.DeadLetter) error {
	var err error
	r.dc.withLock(func() {
		if _, ok := r.dc.st.deadLetters[d.ID]; !ok {
			err = deadletter.ErrNotFound
			return
		}
		r.dc.st.deadLetters[d.ID] = d
	})
	return err
}

func (r *deadLetterRepo) List(ctx context.Context, status *deadletter.Status) ([]deadletter.DeadLetter, error) {
	var out []deadletter.DeadLetter
	r.dc.withLock(func() {
		for _, v := range r.dc.st.deadLetters {
			if status != nil && v.Status != *status {
				continue
			}
			out = append(out, v)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].DeadLetteredAt.After(out[j].DeadLetteredAt) })
	return out, nil
}
