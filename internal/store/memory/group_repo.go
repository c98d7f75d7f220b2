package memory

import (
	"context"

	"github.com/chainsharp/scheduler/internal/domain/manifestgroup"
)

type groupRepo struct {
	dc *dataContext
}

func (r *groupRepo) Upsert(ctx context.Context, g manifestgroup.ManifestGroup) (manifestgroup.ManifestGroup, error) {
	r.dc.withLock(func() {
		if id, ok := r.dc.st.groupsByKey[g.Name]; ok {
			g.ID = id
			existing := r.dc.st.groups[id]
			g.CreatedAt = existing.CreatedAt
		} else {
			r.dc.st.nextGroupID++
			g.ID = r.dc.st.nextGroupID
		}
		r.dc.st.groups[g.ID] = g
		r.dc.st.groupsByKey[g.Name] = g.ID
	})
	return g, nil
}

func (r *groupRepo) GetByName(ctx context.Context, name string) (manifestgroup.ManifestGroup, error) {
	var g manifestgroup.ManifestGroup
	var err error
	r.dc.withLock(func() {
		id, ok := r.dc.st.groupsByKey[name]
		if !ok {
			err = manifestgroup.ErrGroupNotFound
			return
		}
		g = r.dc.st.groups[id]
	})
	return g, err
}

func (r *groupRepo) GetByID(ctx context.Context, id int64) (manifestgroup.ManifestGroup, error) {
	var g manifestgroup.ManifestGroup
	var err error
	r.dc.withLock(func() {
		v, ok := r.dc.st.groups[id]
		if !ok {
			err = manifestgroup.ErrGroupNotFound
			return
		}
		g = v
	})
	return g, err
}

func (r *groupRepo) List(ctx context.Context) ([]manifestgroup.ManifestGroup, error) {
	var out []manifestgroup.ManifestGroup
	r.dc.withLock(func() {
		out = sortedKeys(r.dc.st.groups, func(a, b manifestgroup.ManifestGroup) bool {
			return a.Name < b.Name
		})
	})
	return out, nil
}
