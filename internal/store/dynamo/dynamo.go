// Package dynamo implements store.Store on a DynamoDB table keyed by
// (userId, createdAt) with a local secondary index on (userId, memoryId).
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jun/memories/internal/model"
	"github.com/jun/memories/internal/store"
)

// API is the subset of *dynamodb.Client used by Store.
type API interface {
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

const (
	attrUserID     = "userId"
	attrCreatedAt  = "createdAt"
	attrMemoryID   = "memoryId"
	attrAttachment = "attachmentUrl"

	idStillMatches = "memoryId = :memoryId"
)

// Store is a DynamoDB-backed store.Store.
type Store struct {
	client  API
	table   string
	index   string
	cursors *store.CursorCodec
	logger  *slog.Logger
}

// New creates a Store. index names the owner index used for listing and id
// resolution.
func New(client API, table, index string, cursors *store.CursorCodec, logger *slog.Logger) *Store {
	return &Store{
		client:  client,
		table:   table,
		index:   index,
		cursors: cursors,
		logger:  logger,
	}
}

var _ store.Store = (*Store)(nil)

func (s *Store) ownerQuery(ownerID string) *dynamodb.QueryInput {
	return &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		IndexName:              aws.String(s.index),
		KeyConditionExpression: aws.String("userId = :userId"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":userId": &types.AttributeValueMemberS{Value: ownerID},
		},
	}
}

// ListByOwner follows every page of the owner index.
func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]model.Memory, error) {
	items := []model.Memory{}
	p := dynamodb.NewQueryPaginator(s.client, s.ownerQuery(ownerID))
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return nil, classify("list memories", err)
		}
		var page []model.Memory
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("failed to unmarshal memories: %w", err)
		}
		items = append(items, page...)
	}
	return items, nil
}

// ListPage returns one page of the owner index.
func (s *Store) ListPage(ctx context.Context, ownerID string, req store.PageRequest) (store.Page, error) {
	start, err := s.cursors.Decode(ctx, ownerID, req.Cursor)
	if err != nil {
		return store.Page{}, err
	}

	in := s.ownerQuery(ownerID)
	in.Limit = aws.Int32(int32(req.EffectiveLimit()))
	if start != nil {
		if start[attrUserID] != ownerID {
			return store.Page{}, store.ErrInvalidCursor
		}
		in.ExclusiveStartKey, err = attributevalue.MarshalMap(start)
		if err != nil {
			return store.Page{}, fmt.Errorf("failed to marshal start key: %w", err)
		}
	}

	out, err := s.client.Query(ctx, in)
	if err != nil {
		return store.Page{}, classify("list memories", err)
	}

	page := store.Page{Items: []model.Memory{}}
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &page.Items); err != nil {
		return store.Page{}, fmt.Errorf("failed to unmarshal memories: %w", err)
	}
	if len(out.LastEvaluatedKey) > 0 {
		var last map[string]string
		if err := attributevalue.UnmarshalMap(out.LastEvaluatedKey, &last); err != nil {
			return store.Page{}, fmt.Errorf("failed to unmarshal last key: %w", err)
		}
		page.NextCursor, err = s.cursors.Encode(ctx, ownerID, last)
		if err != nil {
			return store.Page{}, err
		}
	}
	return page, nil
}

// Get resolves recordID through the owner index.
func (s *Store) Get(ctx context.Context, ownerID, recordID string) (model.Memory, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		IndexName:              aws.String(s.index),
		KeyConditionExpression: aws.String("userId = :userId AND memoryId = :memoryId"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":userId":   &types.AttributeValueMemberS{Value: ownerID},
			":memoryId": &types.AttributeValueMemberS{Value: recordID},
		},
	})
	if err != nil {
		return model.Memory{}, classify("get memory", err)
	}
	if len(out.Items) == 0 {
		return model.Memory{}, store.ErrNotFound
	}
	if len(out.Items) > 1 {
		s.logger.WarnContext(ctx, "record id resolves to several rows", "owner", ownerID, "record", recordID, "rows", len(out.Items))
	}

	var m model.Memory
	if err := attributevalue.UnmarshalMap(out.Items[0], &m); err != nil {
		return model.Memory{}, fmt.Errorf("failed to unmarshal memory: %w", err)
	}
	return m, nil
}

// Create writes m without a condition.
func (s *Store) Create(ctx context.Context, m model.Memory) (model.Memory, error) {
	item, err := attributevalue.MarshalMap(m)
	if err != nil {
		return model.Memory{}, fmt.Errorf("failed to marshal memory: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return model.Memory{}, classify("create memory", err)
	}
	return m, nil
}

// Update resolves the record and then rewrites its fields on the condition
// that the row still carries recordID.
func (s *Store) Update(ctx context.Context, ownerID, recordID string, u model.MemoryUpdate) (model.Memory, error) {
	current, err := s.Get(ctx, ownerID, recordID)
	if err != nil {
		return model.Memory{}, err
	}

	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.table),
		Key:                 physicalKey(current),
		UpdateExpression:    aws.String("SET #name = :name, memoryDate = :memoryDate, favorite = :favorite"),
		ConditionExpression: aws.String(idStillMatches),
		ExpressionAttributeNames: map[string]string{
			"#name": "name",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":name":       &types.AttributeValueMemberS{Value: u.Name},
			":memoryDate": &types.AttributeValueMemberS{Value: u.Date},
			":favorite":   &types.AttributeValueMemberBOOL{Value: u.Favorite},
			":memoryId":   &types.AttributeValueMemberS{Value: recordID},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		return model.Memory{}, classify("update memory", err)
	}

	var updated model.Memory
	if err := attributevalue.UnmarshalMap(out.Attributes, &updated); err != nil {
		return model.Memory{}, fmt.Errorf("failed to unmarshal memory: %w", err)
	}
	return updated, nil
}

// Delete resolves the record and removes it on the same condition as Update.
func (s *Store) Delete(ctx context.Context, ownerID, recordID string) error {
	current, err := s.Get(ctx, ownerID, recordID)
	if err != nil {
		return err
	}

	_, err = s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(s.table),
		Key:                 physicalKey(current),
		ConditionExpression: aws.String(idStillMatches),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":memoryId": &types.AttributeValueMemberS{Value: recordID},
		},
	})
	if err != nil {
		return classify("delete memory", err)
	}
	return nil
}

// SetAttachmentKey updates only the attachment attribute.
func (s *Store) SetAttachmentKey(ctx context.Context, ownerID, recordID, objectKey string) error {
	current, err := s.Get(ctx, ownerID, recordID)
	if err != nil {
		return err
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.table),
		Key:                 physicalKey(current),
		UpdateExpression:    aws.String("SET " + attrAttachment + " = :attachment"),
		ConditionExpression: aws.String(idStillMatches),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":attachment": &types.AttributeValueMemberS{Value: objectKey},
			":memoryId":   &types.AttributeValueMemberS{Value: recordID},
		},
	})
	if err != nil {
		return classify("set attachment", err)
	}
	return nil
}

func physicalKey(m model.Memory) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrUserID:    &types.AttributeValueMemberS{Value: m.OwnerID},
		attrCreatedAt: &types.AttributeValueMemberS{Value: m.CreatedAt},
	}
}

var retryables = retry.IsErrorRetryables(retry.DefaultRetryables)

// classify maps SDK errors onto the store sentinels.
func classify(op string, err error) error {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return fmt.Errorf("%s: %w", op, store.ErrConditionFailed)
	}
	if errors.Is(err, context.DeadlineExceeded) || retryables.IsErrorRetryable(err) == aws.TrueTernary {
		return fmt.Errorf("%s: %w: %v", op, store.ErrUnavailable, err)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
