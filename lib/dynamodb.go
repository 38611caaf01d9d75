package lib

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type DynamoDBAPI interface {
	DescribeTable(ctx context.Context, input *dynamodb.DescribeTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, input *dynamodb.CreateTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	UpdateTable(ctx context.Context, input *dynamodb.UpdateTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateTableOutput, error)
	GetItem(ctx context.Context, input *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, input *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, input *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, input *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, input *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, input *dynamodb.ScanInput, opts ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

var dynamoDBClients = make(map[string]*dynamodb.Client)
var dynamoDBClientsLock sync.Mutex

func DynamoDBClient(ctx context.Context, profile, region string) (*dynamodb.Client, error) {
	dynamoDBClientsLock.Lock()
	defer dynamoDBClientsLock.Unlock()
	key := profile + "/" + region
	client, ok := dynamoDBClients[key]
	if !ok {
		sess, err := SessionRegion(ctx, profile, region)
		if err != nil {
			return nil, err
		}
		client = dynamodb.NewFromConfig(*sess)
		dynamoDBClients[key] = client
	}
	return client, nil
}

func DynamoDBIndexName(field string) string {
	return field + "-index"
}

// DynamoDBTableInput builds a pay per request table keyed on profile and id
// with one string keyed global index per field.
func DynamoDBTableInput(table, idField string, indexes []string) *dynamodb.CreateTableInput {
	input := &dynamodb.CreateTableInput{
		TableName:   aws.String(table),
		BillingMode: ddbtypes.BillingModePayPerRequest,
		KeySchema: []ddbtypes.KeySchemaElement{
			{AttributeName: aws.String(FieldProfile), KeyType: ddbtypes.KeyTypeHash},
			{AttributeName: aws.String(idField), KeyType: ddbtypes.KeyTypeRange},
		},
		AttributeDefinitions: []ddbtypes.AttributeDefinition{
			{AttributeName: aws.String(FieldProfile), AttributeType: ddbtypes.ScalarAttributeTypeS},
			{AttributeName: aws.String(idField), AttributeType: ddbtypes.ScalarAttributeTypeS},
		},
	}
	for _, field := range indexes {
		if field == FieldProfile || field == idField {
			continue
		}
		input.AttributeDefinitions = append(input.AttributeDefinitions, ddbtypes.AttributeDefinition{
			AttributeName: aws.String(field),
			AttributeType: ddbtypes.ScalarAttributeTypeS,
		})
		input.GlobalSecondaryIndexes = append(input.GlobalSecondaryIndexes, dynamoDBIndex(field))
	}
	return input
}

func dynamoDBIndex(field string) ddbtypes.GlobalSecondaryIndex {
	return ddbtypes.GlobalSecondaryIndex{
		IndexName: aws.String(DynamoDBIndexName(field)),
		KeySchema: []ddbtypes.KeySchemaElement{
			{AttributeName: aws.String(field), KeyType: ddbtypes.KeyTypeHash},
		},
		Projection: &ddbtypes.Projection{ProjectionType: ddbtypes.ProjectionTypeAll},
	}
}

func dynamoDBTableReady(out *dynamodb.DescribeTableOutput) bool {
	if out.Table == nil || out.Table.TableStatus != ddbtypes.TableStatusActive {
		return false
	}
	for _, index := range out.Table.GlobalSecondaryIndexes {
		if index.IndexStatus != ddbtypes.IndexStatusActive {
			return false
		}
	}
	return true
}

func dynamoDBWaitReady(ctx context.Context, api DynamoDBAPI, table string) error {
	return RetryAttempts(ctx, 60, func() error {
		out, err := api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)})
		if err != nil {
			return err
		}
		if !dynamoDBTableReady(out) {
			return fmt.Errorf("table not active yet: %s", table)
		}
		return nil
	})
}

// DynamoDBEnsureTable creates the table when missing and adds any missing
// indexes, waiting for the table to be active after each change.
func DynamoDBEnsureTable(ctx context.Context, api DynamoDBAPI, input *dynamodb.CreateTableInput, preview bool) error {
	out, err := api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: input.TableName})
	if err != nil {
		var notFound *ddbtypes.ResourceNotFoundException
		if !errors.As(err, &notFound) {
			Logger.Println("error:", err)
			return err
		}
		if !preview {
			_, err = api.CreateTable(ctx, input)
			if err != nil {
				Logger.Println("error:", err)
				return err
			}
			err = dynamoDBWaitReady(ctx, api, *input.TableName)
			if err != nil {
				Logger.Println("error:", err)
				return err
			}
		}
		Logger.Println(PreviewString(preview)+"created table:", *input.TableName)
		return nil
	}
	existing := map[string]bool{}
	for _, index := range out.Table.GlobalSecondaryIndexes {
		existing[*index.IndexName] = true
	}
	for _, index := range input.GlobalSecondaryIndexes {
		if existing[*index.IndexName] {
			continue
		}
		if !preview {
			field := *index.KeySchema[0].AttributeName
			_, err := api.UpdateTable(ctx, &dynamodb.UpdateTableInput{
				TableName: input.TableName,
				AttributeDefinitions: []ddbtypes.AttributeDefinition{
					{AttributeName: aws.String(field), AttributeType: ddbtypes.ScalarAttributeTypeS},
				},
				GlobalSecondaryIndexUpdates: []ddbtypes.GlobalSecondaryIndexUpdate{{
					Create: &ddbtypes.CreateGlobalSecondaryIndexAction{
						IndexName:  index.IndexName,
						KeySchema:  index.KeySchema,
						Projection: index.Projection,
					},
				}},
			})
			if err != nil {
				Logger.Println("error:", err)
				return err
			}
			err = dynamoDBWaitReady(ctx, api, *input.TableName)
			if err != nil {
				Logger.Println("error:", err)
				return err
			}
		}
		Logger.Println(PreviewString(preview)+"created index:", *input.TableName, *index.IndexName)
	}
	return nil
}

func PreviewString(preview bool) string {
	if !preview {
		return ""
	}
	return "preview: "
}

type DynamoDBStorage struct {
	API     DynamoDBAPI
	Table   string
	IDField string
	Indexes []string
}

func NewDynamoDBStorage(ctx context.Context, cfg *Config) (*DynamoDBStorage, error) {
	client, err := DynamoDBClient(ctx, cfg.Collection.Profile, cfg.Collection.Region)
	if err != nil {
		return nil, err
	}
	return &DynamoDBStorage{
		API:     client,
		Table:   cfg.Collection.Table,
		IDField: cfg.IDField,
		Indexes: cfg.Collection.Indexes,
	}, nil
}

func (d *DynamoDBStorage) Name() string {
	return "dynamodb:" + d.Table
}

func (d *DynamoDBStorage) Ping(ctx context.Context) error {
	_, err := d.API.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(d.Table)})
	return err
}

func dynamoDBHandle(profile, id string) Handle {
	return Handle(profile + "/" + id)
}

func (d *DynamoDBStorage) key(h Handle) (map[string]ddbtypes.AttributeValue, error) {
	s := string(h)
	i := strings.LastIndex(s, "/")
	if i == -1 {
		return nil, fmt.Errorf("%w: %s", ErrNoEntry, h)
	}
	return map[string]ddbtypes.AttributeValue{
		FieldProfile: &ddbtypes.AttributeValueMemberS{Value: s[:i]},
		d.IDField:    &ddbtypes.AttributeValueMemberS{Value: s[i+1:]},
	}, nil
}

func (d *DynamoDBStorage) query(ctx context.Context, input *dynamodb.QueryInput) ([]Record, error) {
	var records []Record
	for {
		out, err := d.API.Query(ctx, input)
		if err != nil {
			Logger.Println("error:", err)
			return nil, err
		}
		for _, item := range out.Items {
			val := make(map[string]any)
			err = attributevalue.UnmarshalMap(item, &val)
			if err != nil {
				Logger.Println("error:", err)
				return nil, err
			}
			records = append(records, RecordFromAny(val))
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
	return records, nil
}

func (d *DynamoDBStorage) queryField(ctx context.Context, index *string, field, value string) ([]Record, error) {
	return d.query(ctx, &dynamodb.QueryInput{
		TableName:                aws.String(d.Table),
		IndexName:                index,
		KeyConditionExpression:   aws.String("#k = :v"),
		ExpressionAttributeNames: map[string]string{"#k": field},
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":v": &ddbtypes.AttributeValueMemberS{Value: value},
		},
	})
}

func (d *DynamoDBStorage) Entries(ctx context.Context, profile string) ([]Entry, error) {
	records, err := d.queryField(ctx, nil, FieldProfile, profile)
	if err != nil {
		return nil, err
	}
	var entries []Entry
	for _, r := range records {
		entries = append(entries, Entry{Handle: dynamoDBHandle(profile, r.Get(d.IDField)), Record: r})
	}
	return entries, nil
}

func (d *DynamoDBStorage) Lookup(ctx context.Context, profile, id string) (Handle, bool, error) {
	h := dynamoDBHandle(profile, id)
	key, err := d.key(h)
	if err != nil {
		return "", false, err
	}
	out, err := d.API.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.Table),
		Key:       key,
	})
	if err != nil {
		Logger.Println("error:", err)
		return "", false, err
	}
	if out.Item == nil {
		return "", false, nil
	}
	return h, true, nil
}

func (d *DynamoDBStorage) Add(ctx context.Context, profile string, r Record) (Handle, error) {
	id := r.Get(d.IDField)
	if id == "" {
		return "", fmt.Errorf("record has no %s", d.IDField)
	}
	entry, _ := d.indexed(r)
	entry[FieldProfile] = Scalar(profile)
	item, err := attributevalue.MarshalMap(entry.Any())
	if err != nil {
		Logger.Println("error:", err)
		return "", err
	}
	_, err = d.API.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(d.Table),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#id)"),
		ExpressionAttributeNames: map[string]string{"#id": d.IDField},
	})
	if err != nil {
		var failed *ddbtypes.ConditionalCheckFailedException
		if errors.As(err, &failed) {
			return "", fmt.Errorf("%w: %s %s", ErrDuplicate, profile, id)
		}
		Logger.Println("error:", err)
		return "", err
	}
	return dynamoDBHandle(profile, id), nil
}

// indexed stringifies the values of indexed fields, index keys must be
// non empty strings. Two Name tags become "web,api". Fields that stringify
// to "" are left out and returned.
func (d *DynamoDBStorage) indexed(r Record) (Record, []string) {
	out := r.Copy()
	var dropped []string
	for _, field := range d.Indexes {
		v, ok := out[field]
		if !ok {
			continue
		}
		str := v.String()
		if str == "" {
			delete(out, field)
			dropped = append(dropped, field)
			continue
		}
		out[field] = Scalar(str)
	}
	return out, dropped
}

// StoredForm is the set and clear an Update actually writes.
func (d *DynamoDBStorage) StoredForm(set Record, clear []string) (Record, []string) {
	fields, dropped := d.indexed(set)
	removes := append([]string{}, clear...)
	for _, field := range dropped {
		if !Contains(removes, field) {
			removes = append(removes, field)
		}
	}
	return fields, removes
}

// DynamoDBUpdateExpression builds "SET #a0 = :a0 REMOVE #r0" style
// expressions with fields in sorted order.
func DynamoDBUpdateExpression(set map[string]any, clear []string) (string, map[string]string, map[string]any) {
	names := map[string]string{}
	values := map[string]any{}
	var keys []string
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sets []string
	for i, k := range keys {
		names[fmt.Sprintf("#a%d", i)] = k
		values[fmt.Sprintf(":a%d", i)] = set[k]
		sets = append(sets, fmt.Sprintf("#a%d = :a%d", i, i))
	}
	clear = append([]string{}, clear...)
	sort.Strings(clear)
	var removes []string
	for i, k := range clear {
		names[fmt.Sprintf("#r%d", i)] = k
		removes = append(removes, fmt.Sprintf("#r%d", i))
	}
	var parts []string
	if len(sets) > 0 {
		parts = append(parts, "SET "+strings.Join(sets, ", "))
	}
	if len(removes) > 0 {
		parts = append(parts, "REMOVE "+strings.Join(removes, ", "))
	}
	return strings.Join(parts, " "), names, values
}

func (d *DynamoDBStorage) Update(ctx context.Context, h Handle, set Record, clear []string) error {
	key, err := d.key(h)
	if err != nil {
		return err
	}
	fields, cleared := d.StoredForm(set, clear)
	delete(fields, d.IDField)
	delete(fields, FieldProfile)
	var removes []string
	for _, k := range cleared {
		if k != d.IDField && k != FieldProfile {
			removes = append(removes, k)
		}
	}
	if len(fields) == 0 && len(removes) == 0 {
		return nil
	}
	expr, names, values := DynamoDBUpdateExpression(fields.Any(), removes)
	names["#id"] = d.IDField
	input := &dynamodb.UpdateItemInput{
		TableName:                aws.String(d.Table),
		Key:                      key,
		UpdateExpression:         aws.String(expr),
		ConditionExpression:      aws.String("attribute_exists(#id)"),
		ExpressionAttributeNames: names,
	}
	if len(values) > 0 {
		input.ExpressionAttributeValues, err = attributevalue.MarshalMap(values)
		if err != nil {
			Logger.Println("error:", err)
			return err
		}
	}
	_, err = d.API.UpdateItem(ctx, input)
	if err != nil {
		var failed *ddbtypes.ConditionalCheckFailedException
		if errors.As(err, &failed) {
			return fmt.Errorf("%w: %s", ErrNoEntry, h)
		}
		Logger.Println("error:", err)
		return err
	}
	return nil
}

func (d *DynamoDBStorage) Delete(ctx context.Context, h Handle) error {
	key, err := d.key(h)
	if err != nil {
		return err
	}
	_, err = d.API.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.Table),
		Key:       key,
	})
	if err != nil {
		Logger.Println("error:", err)
		return err
	}
	return nil
}

// Find queries the base table for profile, the field's index when there is
// one, and scans otherwise.
func (d *DynamoDBStorage) Find(ctx context.Context, field, value string) ([]Record, error) {
	if field == FieldProfile {
		return d.queryField(ctx, nil, field, value)
	}
	if Contains(d.Indexes, field) {
		return d.queryField(ctx, aws.String(DynamoDBIndexName(field)), field, value)
	}
	input := &dynamodb.ScanInput{
		TableName:                aws.String(d.Table),
		FilterExpression:         aws.String("#k = :v"),
		ExpressionAttributeNames: map[string]string{"#k": field},
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":v": &ddbtypes.AttributeValueMemberS{Value: value},
		},
	}
	var records []Record
	for {
		out, err := d.API.Scan(ctx, input)
		if err != nil {
			Logger.Println("error:", err)
			return nil, err
		}
		for _, item := range out.Items {
			val := make(map[string]any)
			err = attributevalue.UnmarshalMap(item, &val)
			if err != nil {
				Logger.Println("error:", err)
				return nil, err
			}
			records = append(records, RecordFromAny(val))
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
	return records, nil
}
