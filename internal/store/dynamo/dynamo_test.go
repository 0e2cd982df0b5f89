package dynamo

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jun/memories/internal/crypto"
	"github.com/jun/memories/internal/logging"
	"github.com/jun/memories/internal/model"
	"github.com/jun/memories/internal/store"
)

// fakeAPI answers each call with the configured function and records inputs.
type fakeAPI struct {
	query  func(*dynamodb.QueryInput) (*dynamodb.QueryOutput, error)
	put    func(*dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error)
	update func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error)
	del    func(*dynamodb.DeleteItemInput) (*dynamodb.DeleteItemOutput, error)

	queries []*dynamodb.QueryInput
	updates []*dynamodb.UpdateItemInput
	deletes []*dynamodb.DeleteItemInput
}

func (f *fakeAPI) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queries = append(f.queries, in)
	return f.query(in)
}

func (f *fakeAPI) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	return f.put(in)
}

func (f *fakeAPI) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.updates = append(f.updates, in)
	return f.update(in)
}

func (f *fakeAPI) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.deletes = append(f.deletes, in)
	return f.del(in)
}

var paris = model.Memory{
	OwnerID:   "u1",
	ID:        "m1",
	CreatedAt: "2023-05-01T10:00:00Z",
	Name:      "Paris trip",
	Date:      "2023-05-01",
}

func item(t *testing.T, m model.Memory) map[string]types.AttributeValue {
	t.Helper()
	av, err := attributevalue.MarshalMap(m)
	require.NoError(t, err)
	return av
}

func found(t *testing.T, ms ...model.Memory) func(*dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
	items := make([]map[string]types.AttributeValue, 0, len(ms))
	for _, m := range ms {
		items = append(items, item(t, m))
	}
	return func(*dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
		return &dynamodb.QueryOutput{Items: items}, nil
	}
}

func newStore(api API) *Store {
	return New(api, "Memories", "UserIdIndex", store.NewCursorCodec(crypto.NewMockEncryptor()), logging.Discard())
}

func sval(t *testing.T, av types.AttributeValue) string {
	t.Helper()
	s, ok := av.(*types.AttributeValueMemberS)
	require.True(t, ok, "expected string attribute, got %T", av)
	return s.Value
}

func TestStore_ItemLayout(t *testing.T) {
	av := item(t, paris)
	assert.Equal(t, "u1", sval(t, av["userId"]))
	assert.Equal(t, "m1", sval(t, av["memoryId"]))
	assert.Equal(t, "2023-05-01T10:00:00Z", sval(t, av["createdAt"]))
	assert.Equal(t, "2023-05-01", sval(t, av["memoryDate"]))
	assert.Equal(t, "", sval(t, av["attachmentUrl"]))
	assert.Equal(t, &types.AttributeValueMemberBOOL{Value: false}, av["favorite"])
}

func TestStore_Get(t *testing.T) {
	api := &fakeAPI{query: found(t, paris)}
	got, err := newStore(api).Get(context.Background(), "u1", "m1")
	require.NoError(t, err)

	if diff := cmp.Diff(paris, got); diff != "" {
		t.Errorf("Get() mismatch (-want +got):\n%s", diff)
	}
	require.Len(t, api.queries, 1)
	q := api.queries[0]
	assert.Equal(t, "Memories", aws.ToString(q.TableName))
	assert.Equal(t, "UserIdIndex", aws.ToString(q.IndexName))
	assert.Equal(t, "userId = :userId AND memoryId = :memoryId", aws.ToString(q.KeyConditionExpression))
	assert.Equal(t, "u1", sval(t, q.ExpressionAttributeValues[":userId"]))
	assert.Equal(t, "m1", sval(t, q.ExpressionAttributeValues[":memoryId"]))
}

func TestStore_Get_NotFound(t *testing.T) {
	api := &fakeAPI{query: found(t)}
	_, err := newStore(api).Get(context.Background(), "u2", "m1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_Create(t *testing.T) {
	var put *dynamodb.PutItemInput
	api := &fakeAPI{put: func(in *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
		put = in
		return &dynamodb.PutItemOutput{}, nil
	}}

	got, err := newStore(api).Create(context.Background(), paris)
	require.NoError(t, err)
	assert.Equal(t, paris, got)
	require.NotNil(t, put)
	assert.Nil(t, put.ConditionExpression)
	assert.Equal(t, item(t, paris), put.Item)
}

func TestStore_Update_ResolvesThenWritesConditionally(t *testing.T) {
	updated := paris
	updated.Favorite = true
	api := &fakeAPI{
		query: found(t, paris),
		update: func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
			return &dynamodb.UpdateItemOutput{Attributes: item(t, updated)}, nil
		},
	}

	got, err := newStore(api).Update(context.Background(), "u1", "m1", model.MemoryUpdate{Name: "Paris trip", Date: "2023-05-01", Favorite: true})
	require.NoError(t, err)
	assert.True(t, got.Favorite)

	require.Len(t, api.updates, 1)
	in := api.updates[0]
	assert.Equal(t, "u1", sval(t, in.Key["userId"]))
	assert.Equal(t, "2023-05-01T10:00:00Z", sval(t, in.Key["createdAt"]))
	assert.Len(t, in.Key, 2)
	assert.Equal(t, "memoryId = :memoryId", aws.ToString(in.ConditionExpression))
	assert.Equal(t, "m1", sval(t, in.ExpressionAttributeValues[":memoryId"]))
	assert.Equal(t, "name", in.ExpressionAttributeNames["#name"])
	assert.Equal(t, &types.AttributeValueMemberBOOL{Value: true}, in.ExpressionAttributeValues[":favorite"])
	assert.Equal(t, types.ReturnValueAllNew, in.ReturnValues)
}

func TestStore_Update_NotFoundSkipsWrite(t *testing.T) {
	api := &fakeAPI{query: found(t)}
	_, err := newStore(api).Update(context.Background(), "u1", "m1", model.MemoryUpdate{Name: "x", Date: "2023-05-01"})
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, api.updates)
}

func TestStore_ConditionFailure(t *testing.T) {
	ccf := &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	api := &fakeAPI{
		query: found(t, paris),
		update: func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
			return nil, ccf
		},
		del: func(*dynamodb.DeleteItemInput) (*dynamodb.DeleteItemOutput, error) {
			return nil, ccf
		},
	}
	s := newStore(api)
	ctx := context.Background()

	_, err := s.Update(ctx, "u1", "m1", model.MemoryUpdate{Name: "x", Date: "2023-05-01"})
	assert.ErrorIs(t, err, store.ErrConditionFailed)

	err = s.Delete(ctx, "u1", "m1")
	assert.ErrorIs(t, err, store.ErrConditionFailed)

	err = s.SetAttachmentKey(ctx, "u1", "m1", "u1/m1")
	assert.ErrorIs(t, err, store.ErrConditionFailed)
}

func TestStore_Delete(t *testing.T) {
	api := &fakeAPI{
		query: found(t, paris),
		del: func(*dynamodb.DeleteItemInput) (*dynamodb.DeleteItemOutput, error) {
			return &dynamodb.DeleteItemOutput{}, nil
		},
	}
	require.NoError(t, newStore(api).Delete(context.Background(), "u1", "m1"))

	require.Len(t, api.deletes, 1)
	in := api.deletes[0]
	assert.Equal(t, "2023-05-01T10:00:00Z", sval(t, in.Key["createdAt"]))
	assert.Equal(t, "memoryId = :memoryId", aws.ToString(in.ConditionExpression))
}

func TestStore_SetAttachmentKey(t *testing.T) {
	api := &fakeAPI{
		query: found(t, paris),
		update: func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
			return &dynamodb.UpdateItemOutput{}, nil
		},
	}
	require.NoError(t, newStore(api).SetAttachmentKey(context.Background(), "u1", "m1", "u1/m1"))

	require.Len(t, api.updates, 1)
	in := api.updates[0]
	assert.Equal(t, "SET attachmentUrl = :attachment", aws.ToString(in.UpdateExpression))
	assert.Equal(t, "u1/m1", sval(t, in.ExpressionAttributeValues[":attachment"]))
}

func TestStore_Unavailable(t *testing.T) {
	api := &fakeAPI{query: func(*dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
		return nil, &types.ProvisionedThroughputExceededException{Message: aws.String("slow down")}
	}}
	_, err := newStore(api).Get(context.Background(), "u1", "m1")
	assert.ErrorIs(t, err, store.ErrUnavailable)

	_, err = newStore(api).ListByOwner(context.Background(), "u1")
	assert.ErrorIs(t, err, store.ErrUnavailable)
}

func TestStore_OtherErrorsAreWrapped(t *testing.T) {
	boom := errors.New("boom")
	api := &fakeAPI{query: func(*dynamodb.QueryInput) (*dynamodb.QueryOutput, error) { return nil, boom }}
	_, err := newStore(api).Get(context.Background(), "u1", "m1")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, store.ErrUnavailable)
	assert.NotErrorIs(t, err, store.ErrNotFound)
}

func TestStore_ListByOwner_FollowsPages(t *testing.T) {
	second := paris
	second.ID, second.CreatedAt = "m2", "2023-06-01T10:00:00Z"
	lek := map[string]types.AttributeValue{
		"userId":    &types.AttributeValueMemberS{Value: "u1"},
		"createdAt": &types.AttributeValueMemberS{Value: paris.CreatedAt},
		"memoryId":  &types.AttributeValueMemberS{Value: paris.ID},
	}

	api := &fakeAPI{}
	api.query = func(in *dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
		if in.ExclusiveStartKey == nil {
			return &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{item(t, paris)}, LastEvaluatedKey: lek}, nil
		}
		return &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{item(t, second)}}, nil
	}

	got, err := newStore(api).ListByOwner(context.Background(), "u1")
	require.NoError(t, err)
	if diff := cmp.Diff([]model.Memory{paris, second}, got); diff != "" {
		t.Errorf("ListByOwner() mismatch (-want +got):\n%s", diff)
	}
	assert.Len(t, api.queries, 2)
	assert.Equal(t, "userId = :userId", aws.ToString(api.queries[0].KeyConditionExpression))
}

func TestStore_ListByOwner_Empty(t *testing.T) {
	api := &fakeAPI{query: found(t)}
	got, err := newStore(api).ListByOwner(context.Background(), "u1")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestStore_ListPage(t *testing.T) {
	lek := map[string]types.AttributeValue{
		"userId":    &types.AttributeValueMemberS{Value: "u1"},
		"createdAt": &types.AttributeValueMemberS{Value: paris.CreatedAt},
		"memoryId":  &types.AttributeValueMemberS{Value: paris.ID},
	}
	api := &fakeAPI{}
	api.query = func(in *dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
		if in.ExclusiveStartKey == nil {
			return &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{item(t, paris)}, LastEvaluatedKey: lek}, nil
		}
		return &dynamodb.QueryOutput{}, nil
	}
	s := newStore(api)
	ctx := context.Background()

	first, err := s.ListPage(ctx, "u1", store.PageRequest{Limit: 1})
	require.NoError(t, err)
	require.Len(t, first.Items, 1)
	require.NotEmpty(t, first.NextCursor)
	assert.Equal(t, int32(1), aws.ToInt32(api.queries[0].Limit))

	second, err := s.ListPage(ctx, "u1", store.PageRequest{Limit: 1, Cursor: first.NextCursor})
	require.NoError(t, err)
	assert.Empty(t, second.Items)
	assert.Empty(t, second.NextCursor)
	assert.Equal(t, lek, api.queries[1].ExclusiveStartKey)

	_, err = s.ListPage(ctx, "u2", store.PageRequest{Cursor: first.NextCursor})
	assert.ErrorIs(t, err, store.ErrInvalidCursor)
	assert.Len(t, api.queries, 2)
}
