package world

import (
	"math"
	"testing"

	"github.com/l1jgo/tilegrid/internal/core/ecs"
	"github.com/l1jgo/tilegrid/internal/geom"
)

func TestSpawnParentAndWorldTransform(t *testing.T) {
	e := NewEntities()
	grid := e.Spawn(ecs.Invalid, geom.Transform{Position: geom.Vec2{10, 0}, Rotation: math.Pi / 2})
	child := e.Spawn(grid, geom.Transform{Position: geom.Vec2{1, 0}})

	if p, ok := e.GetParent(child); !ok || p != grid {
		t.Fatalf("expected parent %v, got %v %v", grid, p, ok)
	}
	if _, ok := e.GetParent(grid); ok {
		t.Fatalf("expected root entity to have no parent")
	}
	w := e.WorldTransform(child)
	if !geom.VecClose(w.Position, geom.Vec2{10, 1}) {
		t.Fatalf("expected world position (10, 1), got %v", w.Position)
	}
	pos := e.LocalPositions(grid)
	if len(pos) != 1 || !geom.VecClose(pos[child], geom.Vec2{1, 0}) {
		t.Fatalf("unexpected local positions %v", pos)
	}
}

func TestDespawnIsRecursive(t *testing.T) {
	e := NewEntities()
	grid := e.Spawn(ecs.Invalid, geom.Identity)
	a := e.Spawn(grid, geom.Identity)
	b := e.Spawn(a, geom.Identity)

	e.Despawn(grid)
	for _, id := range []ecs.EntityID{grid, a, b} {
		if e.EntityExists(id) {
			t.Fatalf("expected %v to be despawned", id)
		}
	}
	if e.Count() != 0 {
		t.Fatalf("expected no live entities, got %d", e.Count())
	}
}
