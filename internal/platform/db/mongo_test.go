package db

import (
	"testing"

	"go.mongodb.org/mongo-driver/bson"
)

func indexKeys(t *testing.T, keys interface{}) bson.D {
	t.Helper()
	d, ok := keys.(bson.D)
	if !ok {
		t.Fatalf("index keys must be bson.D, got %T", keys)
	}
	return d
}

// The driver rejects multi-key maps for ordered index keys, so every index
// spec must use bson.D.
func TestMongoIndexModels_KeysAreOrdered(t *testing.T) {
	for coll, models := range mongoIndexModels() {
		for i, m := range models {
			d := indexKeys(t, m.Keys)
			if len(d) == 0 {
				t.Errorf("%s index %d has no keys", coll, i)
			}
		}
	}
}

func TestMongoIndexModels_CompoundKeyOrder(t *testing.T) {
	models := mongoIndexModels()

	cases := []struct {
		coll string
		idx  int
		want []string
	}{
		{"inference_requests", 1, []string{"state", "created_at"}},
		{"remote_app_executions", 2, []string{
			"workflow_instance_id", "export_task_id", "study_instance_uid", "series_instance_uid",
		}},
	}

	for _, tc := range cases {
		d := indexKeys(t, models[tc.coll][tc.idx].Keys)
		if len(d) != len(tc.want) {
			t.Fatalf("%s index %d: expected %d keys, got %d", tc.coll, tc.idx, len(tc.want), len(d))
		}
		for i, key := range tc.want {
			if d[i].Key != key {
				t.Errorf("%s index %d key %d: expected %s, got %s", tc.coll, tc.idx, i, key, d[i].Key)
			}
		}
	}
}

func TestMongoIndexModels_TransactionIDUnique(t *testing.T) {
	models := mongoIndexModels()["inference_requests"]

	d := indexKeys(t, models[0].Keys)
	if d[0].Key != "transaction_id" {
		t.Fatalf("expected transaction_id index first, got %s", d[0].Key)
	}
	opts := models[0].Options
	if opts == nil || opts.Unique == nil || !*opts.Unique {
		t.Error("expected unique index on transaction_id")
	}
}
