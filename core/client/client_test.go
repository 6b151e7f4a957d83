package client

import (
	"testing"
)

func TestClientPaths(t *testing.T) {

	client := NewWithRouter(nil)

	entity := client.Entity("college")
	if p := entity.ListPath(); p != "/api/colleges" {
		t.Fatal("unexpected list path:", p)
	}
	if p := entity.ItemPath("a1b2c3"); p != "/api/colleges/a1b2c3" {
		t.Fatal("unexpected item path:", p)
	}

	entity = client.Entity("college").WithParameter("sort", "name:desc").WithParameter("page", "2")
	if p := entity.ListPath(); p != "/api/colleges?sort=name%3Adesc&page=2" {
		t.Fatal("unexpected list path:", p)
	}

	entity = client.Entity("college").WithFilters(map[string]interface{}{"name": "MIT"})
	if p := entity.ListPath(); p != "/api/colleges?filters=%7B%22name%22%3A%22MIT%22%7D" {
		t.Fatal("unexpected list path:", p)
	}

	// plural derivation follows the entity name
	if p := client.Entity("university").ListPath(); p != "/api/universities" {
		t.Fatal("unexpected list path:", p)
	}
}
