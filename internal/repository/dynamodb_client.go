package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"autograb/internal/domain"
)

const (
	pkAcceptances    = "ACCEPTANCES"
	skAccept         = "ACCEPT#"
	skPrefixAnswer   = "ANSWER#"
	ttlDuration      = 90 * 24 * time.Hour // 90-day TTL
	defaultListLimit = 20
	maxListLimit     = 1000
	// indexTimeLayout keeps every fraction digit so index keys sort
	// lexicographically in time order.
	indexTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Negotiation is one journaled negotiation with the answers sent for it.
type Negotiation struct {
	Acceptance domain.Acceptance
	Answers    []domain.AnswerRecord
}

// Client wraps a DynamoDB table used as the acceptance journal. The journal
// is write-mostly; the automaton never reads it back.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now}, nil
}

// negPK returns the partition key for a negotiation.
func negPK(negotiationID string) string {
	return "NEG#" + negotiationID
}

// acceptanceIndexSK orders the acceptance index chronologically.
func acceptanceIndexSK(ts time.Time, negotiationID string) string {
	return ts.UTC().Format(indexTimeLayout) + "#" + negotiationID
}

func (c *Client) ttlValue() int64 {
	return c.now().Add(ttlDuration).Unix()
}

// RecordAcceptance writes the negotiation record and its index entry in one
// transaction. Writing the same negotiation twice fails the condition.
func (c *Client) RecordAcceptance(ctx context.Context, a domain.Acceptance) error {
	if a.NegotiationID == "" {
		return errors.New("repository: RecordAcceptance: negotiation id is required")
	}
	ttl := c.ttlValue()

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                acceptanceItem(negPK(a.NegotiationID), skAccept, a, ttl),
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                acceptanceItem(pkAcceptances, acceptanceIndexSK(a.AcceptedAt, a.NegotiationID), a, ttl),
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: RecordAcceptance: %w", err)
	}
	return nil
}

// RecordAnswer writes one answer under its negotiation. Each kind is written
// at most once per negotiation.
func (c *Client) RecordAnswer(ctx context.Context, a domain.AnswerRecord) error {
	if a.NegotiationID == "" {
		return errors.New("repository: RecordAnswer: negotiation id is required")
	}
	if a.Kind == domain.QuestionNone {
		return errors.New("repository: RecordAnswer: answer kind is required")
	}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                answerItem(a, c.ttlValue()),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: RecordAnswer: %w", err)
	}
	return nil
}

// ListAcceptances returns the most recent acceptances, newest first.
func (c *Client) ListAcceptances(ctx context.Context, limit int) ([]domain.Acceptance, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: pkAcceptances},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: ListAcceptances query: %w", err)
	}

	acceptances := make([]domain.Acceptance, 0, len(out.Items))
	for _, item := range out.Items {
		a, err := itemToAcceptance(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListAcceptances unmarshal: %w", err)
		}
		acceptances = append(acceptances, a)
	}
	return acceptances, nil
}

// GetNegotiation loads one negotiation and its answers. The bool is false when
// no acceptance was journaled under id.
func (c *Client) GetNegotiation(ctx context.Context, negotiationID string) (Negotiation, bool, error) {
	pk := negPK(negotiationID)
	got, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: skAccept},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return Negotiation{}, false, fmt.Errorf("repository: GetNegotiation get item: %w", err)
	}
	if got == nil || len(got.Item) == 0 {
		return Negotiation{}, false, nil
	}
	acceptance, err := itemToAcceptance(got.Item)
	if err != nil {
		return Negotiation{}, false, fmt.Errorf("repository: GetNegotiation decode acceptance: %w", err)
	}

	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: pk},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixAnswer},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return Negotiation{}, false, fmt.Errorf("repository: GetNegotiation query answers: %w", err)
	}
	answers := make([]domain.AnswerRecord, 0, len(out.Items))
	for _, item := range out.Items {
		a, err := itemToAnswer(item)
		if err != nil {
			return Negotiation{}, false, fmt.Errorf("repository: GetNegotiation decode answer: %w", err)
		}
		answers = append(answers, a)
	}
	// Quantity is always answered before price.
	if len(answers) == 2 && answers[0].Kind == domain.QuestionPrice {
		answers[0], answers[1] = answers[1], answers[0]
	}
	return Negotiation{Acceptance: acceptance, Answers: answers}, true, nil
}

func acceptanceItem(pk, sk string, a domain.Acceptance, ttl int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":            &types.AttributeValueMemberS{Value: pk},
		"SK":            &types.AttributeValueMemberS{Value: sk},
		"negotiationId": &types.AttributeValueMemberS{Value: a.NegotiationID},
		"offerId":       &types.AttributeValueMemberS{Value: a.Offer.ID},
		"quantity":      &types.AttributeValueMemberN{Value: formatFloat(a.Offer.Quantity)},
		"unitPrice":     &types.AttributeValueMemberN{Value: formatFloat(a.Offer.UnitPrice)},
		"messageId":     &types.AttributeValueMemberS{Value: a.MessageID},
		"acceptedAt":    &types.AttributeValueMemberS{Value: a.AcceptedAt.UTC().Format(time.RFC3339Nano)},
		"ttl":           &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", ttl)},
	}
}

func answerItem(a domain.AnswerRecord, ttl int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":            &types.AttributeValueMemberS{Value: negPK(a.NegotiationID)},
		"SK":            &types.AttributeValueMemberS{Value: skPrefixAnswer + a.Kind.String()},
		"negotiationId": &types.AttributeValueMemberS{Value: a.NegotiationID},
		"kind":          &types.AttributeValueMemberS{Value: a.Kind.String()},
		"text":          &types.AttributeValueMemberS{Value: a.Text},
		"sentAt":        &types.AttributeValueMemberS{Value: a.SentAt.UTC().Format(time.RFC3339Nano)},
		"ttl":           &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", ttl)},
	}
}

// itemToAcceptance converts a DynamoDB attribute map to an Acceptance.
func itemToAcceptance(item map[string]types.AttributeValue) (domain.Acceptance, error) {
	negotiationID, err := strAttr(item, "negotiationId")
	if err != nil {
		return domain.Acceptance{}, err
	}
	quantity, err := floatAttr(item, "quantity")
	if err != nil {
		return domain.Acceptance{}, err
	}
	unitPrice, err := floatAttr(item, "unitPrice")
	if err != nil {
		return domain.Acceptance{}, err
	}
	acceptedAt, err := timeAttr(item, "acceptedAt")
	if err != nil {
		return domain.Acceptance{}, err
	}
	offerID, _ := strAttr(item, "offerId")     // anonymous offers carry ""
	messageID, _ := strAttr(item, "messageId") // allow empty

	return domain.Acceptance{
		NegotiationID: negotiationID,
		Offer:         domain.OfferRecord{ID: offerID, Quantity: quantity, UnitPrice: unitPrice},
		MessageID:     messageID,
		AcceptedAt:    acceptedAt,
	}, nil
}

func itemToAnswer(item map[string]types.AttributeValue) (domain.AnswerRecord, error) {
	negotiationID, err := strAttr(item, "negotiationId")
	if err != nil {
		return domain.AnswerRecord{}, err
	}
	rawKind, err := strAttr(item, "kind")
	if err != nil {
		return domain.AnswerRecord{}, err
	}
	var kind domain.QuestionKind
	switch rawKind {
	case domain.QuestionQuantity.String():
		kind = domain.QuestionQuantity
	case domain.QuestionPrice.String():
		kind = domain.QuestionPrice
	default:
		return domain.AnswerRecord{}, fmt.Errorf("repository: unknown answer kind %q", rawKind)
	}
	text, err := strAttr(item, "text")
	if err != nil {
		return domain.AnswerRecord{}, err
	}
	sentAt, err := timeAttr(item, "sentAt")
	if err != nil {
		return domain.AnswerRecord{}, err
	}
	return domain.AnswerRecord{NegotiationID: negotiationID, Kind: kind, Text: text, SentAt: sentAt}, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func floatAttr(item map[string]types.AttributeValue, key string) (float64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseFloat(n.Value, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	raw, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return ts, nil
}
