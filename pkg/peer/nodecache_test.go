package peer

import "testing"

func TestNodeCache_GetCreatesOnFirstAccess(t *testing.T) {
	in := NewInterner()
	c := NewNodeCache()
	addr := addrFor(t, in, 1, 1)

	data := c.Get(addr)
	if data == nil {
		t.Fatal("Get() returned nil")
	}
	if !data.IsEmpty() {
		t.Error("freshly created NodeCachedData should be empty")
	}

	again := c.Get(addr)
	if again != data {
		t.Error("Get() returned a different *NodeCachedData for the same address")
	}
}

func TestNodeCachedData_SetAttributeAndClusterVersion(t *testing.T) {
	in := NewInterner()
	c := NewNodeCache()
	addr := addrFor(t, in, 1, 1)
	data := c.Get(addr)

	data.SetAttribute("1/6/0", AttributeValue{EndpointID: 1, ClusterID: 6, AttributeID: 0, Name: "OnOff", Value: true})
	v, ok := data.Attribute("1/6/0")
	if !ok || v.Value != true {
		t.Errorf("Attribute() = (%+v, %v), want OnOff=true", v, ok)
	}

	data.SetClusterVersion("1/6", ClusterVersion{EndpointID: 1, ClusterID: 6, DataVersion: 3})
	cv, ok := data.ClusterVersion("1/6")
	if !ok || cv.DataVersion != 3 {
		t.Errorf("ClusterVersion() = (%+v, %v), want DataVersion=3", cv, ok)
	}

	if data.IsEmpty() {
		t.Error("IsEmpty() = true after writes")
	}
}

func TestNodeCache_Drop(t *testing.T) {
	in := NewInterner()
	c := NewNodeCache()
	addr := addrFor(t, in, 1, 1)

	data := c.Get(addr)
	data.SetAttribute("1/6/0", AttributeValue{Value: true})

	c.Drop(addr)

	fresh := c.Get(addr)
	if fresh == data {
		t.Error("Get() after Drop() returned the dropped NodeCachedData")
	}
	if !fresh.IsEmpty() {
		t.Error("Get() after Drop() should return a fresh, empty cache")
	}
}

func TestNodeCache_DropUnknownIsNoOp(t *testing.T) {
	in := NewInterner()
	c := NewNodeCache()
	addr := addrFor(t, in, 1, 1)

	// Must not panic.
	c.Drop(addr)
}
