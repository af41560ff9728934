package mongostore

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/dmwm/workqueue/internal/elementstore"
	"github.com/dmwm/workqueue/internal/elementstore/storetest"
)

func TestViewQuery(t *testing.T) {
	filter, sort, err := viewQuery(elementstore.Available, elementstore.Key("ignored"))
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "status", Value: "Available"}}, filter)
	assert.Equal(t, bson.D{{Key: "priority", Value: -1}, {Key: "insert_id", Value: 1}}, sort)

	filter, _, err = viewQuery(elementstore.ByRequest, elementstore.KeyRange{Start: "a", End: "c"})
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "request_name", Value: bson.D{{Key: "$gte", Value: "a"}, {Key: "$lte", Value: "c"}}}}, filter)

	filter, _, err = viewQuery(elementstore.ByParent, elementstore.All())
	require.NoError(t, err)
	assert.Equal(t, "parent_queue_id", filter[0].Key)

	_, _, err = viewQuery("nope", elementstore.All())
	assert.ErrorIs(t, err, elementstore.ErrView)
}

// Set WQ_TEST_MONGO_URI to run the shared store suite against a live server.
func TestStoreConformance(t *testing.T) {
	uri := os.Getenv("WQ_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("WQ_TEST_MONGO_URI not set")
	}
	storetest.Run(t, func(t *testing.T) elementstore.Store {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		queue := "wq_" + strings.ReplaceAll(uuid.NewString(), "-", "")
		s, err := Connect(ctx, uri, "workqueue_test", queue)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.collection.Drop(context.Background()) })
		return s
	})
}
