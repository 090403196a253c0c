package repository

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"autograb/internal/domain"
)

type fakeDynamo struct {
	getOut       *dynamodb.GetItemOutput
	getErr       error
	putErr       error
	queryOut     *dynamodb.QueryOutput
	queryErr     error
	txErr        error
	lastGetInput *dynamodb.GetItemInput
	lastPutInput *dynamodb.PutItemInput
	lastQueryIn  *dynamodb.QueryInput
	lastTxInput  *dynamodb.TransactWriteItemsInput
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetInput = in
	return f.getOut, f.getErr
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPutInput = in
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.lastQueryIn = in
	return f.queryOut, f.queryErr
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.lastTxInput = in
	return &dynamodb.TransactWriteItemsOutput{}, f.txErr
}

var acceptedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleAcceptance() domain.Acceptance {
	return domain.Acceptance{
		NegotiationID: "neg-1",
		Offer:         domain.OfferRecord{ID: "77", Quantity: 60.5, UnitPrice: 4200},
		MessageID:     "101",
		AcceptedAt:    acceptedAt,
	}
}

func makeAnswerItem(kind, text string) map[string]types.AttributeValue {
	return answerItem(domain.AnswerRecord{
		NegotiationID: "neg-1",
		Kind:          kindFromString(kind),
		Text:          text,
		SentAt:        acceptedAt,
	}, 0)
}

func kindFromString(s string) domain.QuestionKind {
	if s == "price" {
		return domain.QuestionPrice
	}
	return domain.QuestionQuantity
}

func mustNewClient(t *testing.T, db *fakeDynamo) *Client {
	t.Helper()
	c, err := New(db, "test-table")
	require.NoError(t, err)
	c.now = func() time.Time { return acceptedAt }
	return c
}

func TestRecordAcceptance_WritesRecordAndIndex(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	err := c.RecordAcceptance(context.Background(), sampleAcceptance())
	require.NoError(t, err)
	require.NotNil(t, db.lastTxInput)
	require.Len(t, db.lastTxInput.TransactItems, 2)

	record := db.lastTxInput.TransactItems[0].Put
	require.Equal(t, "NEG#neg-1", record.Item["PK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, skAccept, record.Item["SK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "60.5", record.Item["quantity"].(*types.AttributeValueMemberN).Value)
	require.Equal(t, "attribute_not_exists(PK) AND attribute_not_exists(SK)", *record.ConditionExpression)

	index := db.lastTxInput.TransactItems[1].Put
	require.Equal(t, pkAcceptances, index.Item["PK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "2026-03-01T12:00:00.000000000Z#neg-1", index.Item["SK"].(*types.AttributeValueMemberS).Value)
}

func TestRecordAcceptance_MissingNegotiationID(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	err := c.RecordAcceptance(context.Background(), domain.Acceptance{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "required")
	require.Nil(t, db.lastTxInput)
}

func TestRecordAcceptance_DynamoError(t *testing.T) {
	db := &fakeDynamo{txErr: errors.New("transaction canceled")}
	c := mustNewClient(t, db)
	err := c.RecordAcceptance(context.Background(), sampleAcceptance())
	require.Error(t, err)
	require.Contains(t, err.Error(), "RecordAcceptance")
}

func TestRecordAnswer_HappyPath(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	err := c.RecordAnswer(context.Background(), domain.AnswerRecord{
		NegotiationID: "neg-1",
		Kind:          domain.QuestionPrice,
		Text:          "4200",
		SentAt:        acceptedAt,
	})
	require.NoError(t, err)
	require.Equal(t, "ANSWER#price", db.lastPutInput.Item["SK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "4200", db.lastPutInput.Item["text"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "attribute_not_exists(PK) AND attribute_not_exists(SK)", *db.lastPutInput.ConditionExpression)
}

func TestRecordAnswer_Validation(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{})
	err := c.RecordAnswer(context.Background(), domain.AnswerRecord{Kind: domain.QuestionPrice})
	require.Error(t, err)
	require.Contains(t, err.Error(), "negotiation id")

	err = c.RecordAnswer(context.Background(), domain.AnswerRecord{NegotiationID: "neg-1"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "kind")
}

func TestRecordAnswer_DynamoError(t *testing.T) {
	db := &fakeDynamo{putErr: errors.New("ProvisionedThroughputExceededException")}
	c := mustNewClient(t, db)
	err := c.RecordAnswer(context.Background(), domain.AnswerRecord{NegotiationID: "neg-1", Kind: domain.QuestionQuantity})
	require.Error(t, err)
	require.Contains(t, err.Error(), "RecordAnswer")
}

func TestListAcceptances_HappyPath(t *testing.T) {
	a := sampleAcceptance()
	db := &fakeDynamo{
		queryOut: &dynamodb.QueryOutput{
			Items: []map[string]types.AttributeValue{
				acceptanceItem(pkAcceptances, acceptanceIndexSK(a.AcceptedAt, a.NegotiationID), a, 0),
			},
		},
	}
	c := mustNewClient(t, db)
	got, err := c.ListAcceptances(context.Background(), 5)
	require.NoError(t, err)
	require.Equal(t, []domain.Acceptance{a}, got)
	require.Equal(t, "PK = :pk", *db.lastQueryIn.KeyConditionExpression)
	require.False(t, *db.lastQueryIn.ScanIndexForward)
	require.Equal(t, int32(5), *db.lastQueryIn.Limit)
}

func TestListAcceptances_DefaultLimit(t *testing.T) {
	db := &fakeDynamo{queryOut: &dynamodb.QueryOutput{}}
	c := mustNewClient(t, db)
	got, err := c.ListAcceptances(context.Background(), 0)
	require.NoError(t, err)
	require.Empty(t, got)
	require.Equal(t, int32(defaultListLimit), *db.lastQueryIn.Limit)
}

func TestListAcceptances_ClampsLimit(t *testing.T) {
	db := &fakeDynamo{queryOut: &dynamodb.QueryOutput{}}
	c := mustNewClient(t, db)
	_, err := c.ListAcceptances(context.Background(), math.MaxInt)
	require.NoError(t, err)
	require.Equal(t, int32(maxListLimit), *db.lastQueryIn.Limit)
}

func TestAcceptanceIndexSK_SortsChronologically(t *testing.T) {
	whole := acceptanceIndexSK(acceptedAt, "neg-a")
	half := acceptanceIndexSK(acceptedAt.Add(500*time.Millisecond), "neg-b")
	next := acceptanceIndexSK(acceptedAt.Add(time.Second), "neg-c")
	require.Less(t, whole, half)
	require.Less(t, half, next)
	require.Equal(t, "2026-03-01T12:00:00.500000000Z#neg-b", half)
}

func TestListAcceptances_QueryError(t *testing.T) {
	db := &fakeDynamo{queryErr: errors.New("ResourceNotFoundException")}
	c := mustNewClient(t, db)
	_, err := c.ListAcceptances(context.Background(), 5)
	require.Error(t, err)
	require.Contains(t, err.Error(), "ListAcceptances")
}

func TestListAcceptances_MalformedItem(t *testing.T) {
	item := map[string]types.AttributeValue{
		"PK":            &types.AttributeValueMemberS{Value: pkAcceptances},
		"negotiationId": &types.AttributeValueMemberS{Value: "neg-1"},
		"quantity":      &types.AttributeValueMemberS{Value: "sixty"},
	}
	db := &fakeDynamo{queryOut: &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{item}}}
	c := mustNewClient(t, db)
	_, err := c.ListAcceptances(context.Background(), 5)
	require.Error(t, err)
	require.Contains(t, err.Error(), "quantity")
}

func TestGetNegotiation_HappyPath(t *testing.T) {
	a := sampleAcceptance()
	db := &fakeDynamo{
		getOut: &dynamodb.GetItemOutput{Item: acceptanceItem(negPK(a.NegotiationID), skAccept, a, 0)},
		queryOut: &dynamodb.QueryOutput{
			Items: []map[string]types.AttributeValue{
				makeAnswerItem("price", "4200"),
				makeAnswerItem("quantity", "60"),
			},
		},
	}
	c := mustNewClient(t, db)
	got, ok, err := c.GetNegotiation(context.Background(), "neg-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, a, got.Acceptance)
	require.Len(t, got.Answers, 2)
	require.Equal(t, "60", got.Answers[0].Text)
	require.Equal(t, "4200", got.Answers[1].Text)
	require.True(t, *db.lastGetInput.ConsistentRead)
	require.Equal(t, "PK = :pk AND begins_with(SK, :prefix)", *db.lastQueryIn.KeyConditionExpression)
}

func TestGetNegotiation_NotFound(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{}}
	c := mustNewClient(t, db)
	_, ok, err := c.GetNegotiation(context.Background(), "missing")
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, db.lastQueryIn)
}

func TestGetNegotiation_GetItemError(t *testing.T) {
	db := &fakeDynamo{getErr: errors.New("boom")}
	c := mustNewClient(t, db)
	_, _, err := c.GetNegotiation(context.Background(), "neg-1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "GetNegotiation")
}

func TestGetNegotiation_UnknownAnswerKind(t *testing.T) {
	a := sampleAcceptance()
	bad := makeAnswerItem("quantity", "60")
	bad["kind"] = &types.AttributeValueMemberS{Value: "weight"}
	db := &fakeDynamo{
		getOut:   &dynamodb.GetItemOutput{Item: acceptanceItem(negPK(a.NegotiationID), skAccept, a, 0)},
		queryOut: &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{bad}},
	}
	c := mustNewClient(t, db)
	_, _, err := c.GetNegotiation(context.Background(), "neg-1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown answer kind")
}

func TestTTLValue(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{})
	require.Equal(t, acceptedAt.Add(ttlDuration).Unix(), c.ttlValue())
}

func TestNegPK(t *testing.T) {
	require.Equal(t, "NEG#abc", negPK("abc"))
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil, "test-table")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}

func TestNew_EmptyTableName(t *testing.T) {
	_, err := New(&fakeDynamo{}, " ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be empty")
}
