package store

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cenkalti/backoff/v5"
	"github.com/zanbei/agentx/config"
	"github.com/zanbei/agentx/definition"
	"github.com/zanbei/agentx/errors"
)

// batchSize is the BatchWriteItem request limit.
const batchSize = 25

// Unprocessed batch items are resent with exponential backoff, at most
// batchMaxTries calls per batch.
const (
	batchMaxTries       = 6
	batchInitialBackoff = 50 * time.Millisecond
)

type dynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// DynamoStore implements Store on four DynamoDB tables. Agents, servers and
// chat records are keyed by id; chat responses by (id, resp_no).
type DynamoStore struct {
	client dynamoAPI
	tables config.DynamoTables
	// batchBackoff overrides batchInitialBackoff when set.
	batchBackoff time.Duration
}

// OpenDynamo builds a client from the default AWS chain.
func OpenDynamo(ctx context.Context, cfg config.StoreConfig) (*DynamoStore, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load AWS config")
	}
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &DynamoStore{client: client, tables: cfg.Tables}, nil
}

func (d *DynamoStore) Close() error { return nil }

func str(v string) types.AttributeValue { return &types.AttributeValueMemberS{Value: v} }

func num(v int) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.Itoa(v)}
}

func idKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"id": str(id)}
}

func getS(item map[string]types.AttributeValue, key string) string {
	if v, ok := item[key].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func getN(item map[string]types.AttributeValue, key string) int {
	if v, ok := item[key].(*types.AttributeValueMemberN); ok {
		n, _ := strconv.Atoi(v.Value)
		return n
	}
	return 0
}

func agentToItem(a *definition.Agent) (map[string]types.AttributeValue, error) {
	raw, err := definition.EncodeTools(a.Tools)
	if err != nil {
		return nil, err
	}
	tools := make([]types.AttributeValue, len(raw))
	for i, r := range raw {
		tools[i] = str(r)
	}
	extras, err := json.Marshal(a.Extras)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode extras")
	}
	return map[string]types.AttributeValue{
		"id":             str(a.ID),
		"name":           str(a.Name),
		"display_name":   str(a.DisplayName),
		"desc":           str(a.Description),
		"agent_type":     str(string(a.AgentType)),
		"model_provider": str(string(a.ModelProvider)),
		"model_id":       str(a.ModelID),
		"sys_prompt":     str(a.SystemPrompt),
		"tools":          &types.AttributeValueMemberL{Value: tools},
		"envs":           str(a.Envs),
		"extras":         str(string(extras)),
	}, nil
}

func itemToAgent(item map[string]types.AttributeValue) (*definition.Agent, error) {
	a := &definition.Agent{
		ID:            getS(item, "id"),
		Name:          getS(item, "name"),
		DisplayName:   getS(item, "display_name"),
		Description:   getS(item, "desc"),
		AgentType:     definition.AgentType(getS(item, "agent_type")),
		ModelProvider: definition.Provider(getS(item, "model_provider")),
		ModelID:       getS(item, "model_id"),
		SystemPrompt:  getS(item, "sys_prompt"),
		Envs:          getS(item, "envs"),
	}
	var raw []string
	if l, ok := item["tools"].(*types.AttributeValueMemberL); ok {
		for _, v := range l.Value {
			if s, ok := v.(*types.AttributeValueMemberS); ok {
				raw = append(raw, s.Value)
			}
		}
	}
	var err error
	if a.Tools, err = definition.DecodeTools(raw); err != nil {
		return nil, err
	}
	if extras := getS(item, "extras"); extras != "" && extras != "null" {
		if err := json.Unmarshal([]byte(extras), &a.Extras); err != nil {
			return nil, errors.Wrapf(err, "agent %s has malformed extras", a.ID)
		}
	}
	return a, nil
}

func (d *DynamoStore) get(ctx context.Context, table, id string) (map[string]types.AttributeValue, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{TableName: aws.String(table), Key: idKey(id)})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get item %s from %s", id, table)
	}
	return out.Item, nil
}

func (d *DynamoStore) put(ctx context.Context, table string, item map[string]types.AttributeValue) error {
	_, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(table), Item: item})
	return errors.Wrapf(err, "failed to put item into %s", table)
}

func (d *DynamoStore) delete(ctx context.Context, table string, key map[string]types.AttributeValue) error {
	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{TableName: aws.String(table), Key: key})
	return errors.Wrapf(err, "failed to delete item from %s", table)
}

// scan pages through the table until done or limit items were collected.
// A limit <= 0 means no bound.
func (d *DynamoStore) scan(ctx context.Context, in *dynamodb.ScanInput, limit int) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue
	for {
		out, err := d.client.Scan(ctx, in)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to scan %s", aws.ToString(in.TableName))
		}
		items = append(items, out.Items...)
		if limit > 0 && len(items) >= limit {
			return items[:limit], nil
		}
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func (d *DynamoStore) GetAgent(ctx context.Context, id string) (*definition.Agent, error) {
	item, err := d.get(ctx, d.tables.Agents, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, errors.NotFound("agent", id)
	}
	return itemToAgent(item)
}

// PutAgent deletes any item with the same id before writing the new one.
func (d *DynamoStore) PutAgent(ctx context.Context, a *definition.Agent) error {
	if a.ID == "" {
		return errors.New("agent id is required")
	}
	item, err := agentToItem(a)
	if err != nil {
		return err
	}
	if err := d.DeleteAgent(ctx, a.ID); err != nil {
		return err
	}
	return d.put(ctx, d.tables.Agents, item)
}

func (d *DynamoStore) DeleteAgent(ctx context.Context, id string) error {
	return d.delete(ctx, d.tables.Agents, idKey(id))
}

func (d *DynamoStore) ListAgents(ctx context.Context) ([]definition.Agent, error) {
	items, err := d.scan(ctx, &dynamodb.ScanInput{TableName: aws.String(d.tables.Agents)}, 0)
	if err != nil {
		return nil, err
	}
	return itemsToAgents(items)
}

func (d *DynamoStore) FindAgentsByField(ctx context.Context, field, value string, limit int) ([]definition.Agent, error) {
	if !validField(field) {
		return nil, errors.New("field %q is not searchable", field)
	}
	items, err := d.scan(ctx, &dynamodb.ScanInput{
		TableName:                 aws.String(d.tables.Agents),
		FilterExpression:          aws.String("#f = :v"),
		ExpressionAttributeNames:  map[string]string{"#f": field},
		ExpressionAttributeValues: map[string]types.AttributeValue{":v": str(value)},
	}, limit)
	if err != nil {
		return nil, err
	}
	return itemsToAgents(items)
}

func itemsToAgents(items []map[string]types.AttributeValue) ([]definition.Agent, error) {
	out := make([]definition.Agent, 0, len(items))
	for _, item := range items {
		a, err := itemToAgent(item)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, nil
}

func (d *DynamoStore) GetMCPServer(ctx context.Context, id string) (*definition.MCPServer, error) {
	item, err := d.get(ctx, d.tables.MCPServers, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, errors.NotFound("mcp server", id)
	}
	return itemToServer(item), nil
}

func itemToServer(item map[string]types.AttributeValue) *definition.MCPServer {
	return &definition.MCPServer{
		ID:          getS(item, "id"),
		Name:        getS(item, "name"),
		Description: getS(item, "desc"),
		Host:        getS(item, "host"),
	}
}

func (d *DynamoStore) PutMCPServer(ctx context.Context, s *definition.MCPServer) error {
	if s.ID == "" {
		return errors.New("mcp server id is required")
	}
	return d.put(ctx, d.tables.MCPServers, map[string]types.AttributeValue{
		"id":   str(s.ID),
		"name": str(s.Name),
		"desc": str(s.Description),
		"host": str(s.Host),
	})
}

func (d *DynamoStore) DeleteMCPServer(ctx context.Context, id string) error {
	return d.delete(ctx, d.tables.MCPServers, idKey(id))
}

func (d *DynamoStore) ListMCPServers(ctx context.Context) ([]definition.MCPServer, error) {
	items, err := d.scan(ctx, &dynamodb.ScanInput{TableName: aws.String(d.tables.MCPServers)}, 0)
	if err != nil {
		return nil, err
	}
	out := make([]definition.MCPServer, 0, len(items))
	for _, item := range items {
		out = append(out, *itemToServer(item))
	}
	return out, nil
}

func (d *DynamoStore) PutChatRecord(ctx context.Context, r *ChatRecord) error {
	return d.put(ctx, d.tables.ChatRecords, map[string]types.AttributeValue{
		"id":           str(r.ID),
		"agent_id":     str(r.AgentID),
		"user_message": str(r.UserMessage),
		"create_time":  str(formatTime(r.CreateTime)),
	})
}

func itemToRecord(item map[string]types.AttributeValue) ChatRecord {
	return ChatRecord{
		ID:          getS(item, "id"),
		AgentID:     getS(item, "agent_id"),
		UserMessage: getS(item, "user_message"),
		CreateTime:  parseTime(getS(item, "create_time")),
	}
}

func (d *DynamoStore) GetChatRecord(ctx context.Context, id string) (*ChatRecord, error) {
	item, err := d.get(ctx, d.tables.ChatRecords, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, errors.NotFound("chat record", id)
	}
	r := itemToRecord(item)
	return &r, nil
}

// ListChatRecords scans one bounded page and orders it newest first.
func (d *DynamoStore) ListChatRecords(ctx context.Context, limit int) ([]ChatRecord, error) {
	out, err := d.client.Scan(ctx, &dynamodb.ScanInput{
		TableName: aws.String(d.tables.ChatRecords),
		Limit:     aws.Int32(int32(recordLimit(limit))),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to scan %s", d.tables.ChatRecords)
	}
	records := make([]ChatRecord, 0, len(out.Items))
	for _, item := range out.Items {
		records = append(records, itemToRecord(item))
	}
	sort.Slice(records, func(i, j int) bool { return records[i].CreateTime.After(records[j].CreateTime) })
	return records, nil
}

func (d *DynamoStore) PutChatResponse(ctx context.Context, r *ChatResponse) error {
	return d.put(ctx, d.tables.ChatResponses, map[string]types.AttributeValue{
		"id":          str(r.ChatID),
		"resp_no":     num(r.RespNo),
		"content":     str(r.Content),
		"create_time": str(formatTime(r.CreateTime)),
	})
}

func (d *DynamoStore) ListChatResponses(ctx context.Context, chatID string) ([]ChatResponse, error) {
	in := &dynamodb.QueryInput{
		TableName:                 aws.String(d.tables.ChatResponses),
		KeyConditionExpression:    aws.String("id = :id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":id": str(chatID)},
		ScanIndexForward:          aws.Bool(true),
	}
	out := []ChatResponse{}
	for {
		page, err := d.client.Query(ctx, in)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to query chat responses %s", chatID)
		}
		for _, item := range page.Items {
			out = append(out, ChatResponse{
				ChatID:     getS(item, "id"),
				RespNo:     getN(item, "resp_no"),
				Content:    getS(item, "content"),
				CreateTime: parseTime(getS(item, "create_time")),
			})
		}
		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = page.LastEvaluatedKey
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RespNo < out[j].RespNo })
	return out, nil
}

func (d *DynamoStore) GetSchedule(ctx context.Context, id string) (*Schedule, error) {
	item, err := d.get(ctx, d.tables.Schedules, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, errors.NotFound("schedule", id)
	}
	sc := itemToSchedule(item)
	return &sc, nil
}

func itemToSchedule(item map[string]types.AttributeValue) Schedule {
	return Schedule{
		ID:             getS(item, "id"),
		AgentID:        getS(item, "agentId"),
		AgentName:      getS(item, "agentName"),
		CronExpression: getS(item, "cronExpression"),
		Status:         getS(item, "status"),
		UserMessage:    getS(item, "user_message"),
		CreatedAt:      parseTime(getS(item, "createdAt")),
		UpdatedAt:      parseTime(getS(item, "updatedAt")),
	}
}

func (d *DynamoStore) PutSchedule(ctx context.Context, s *Schedule) error {
	if s.ID == "" {
		return errors.New("schedule id is required")
	}
	return d.put(ctx, d.tables.Schedules, map[string]types.AttributeValue{
		"id":             str(s.ID),
		"agentId":        str(s.AgentID),
		"agentName":      str(s.AgentName),
		"cronExpression": str(s.CronExpression),
		"status":         str(s.Status),
		"user_message":   str(s.UserMessage),
		"createdAt":      str(formatTime(s.CreatedAt)),
		"updatedAt":      str(formatTime(s.UpdatedAt)),
	})
}

func (d *DynamoStore) DeleteSchedule(ctx context.Context, id string) error {
	return d.delete(ctx, d.tables.Schedules, idKey(id))
}

func (d *DynamoStore) ListSchedules(ctx context.Context) ([]Schedule, error) {
	items, err := d.scan(ctx, &dynamodb.ScanInput{TableName: aws.String(d.tables.Schedules)}, 0)
	if err != nil {
		return nil, err
	}
	out := make([]Schedule, 0, len(items))
	for _, item := range items {
		out = append(out, itemToSchedule(item))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// DeleteChat removes the record, then batch deletes the responses.
func (d *DynamoStore) DeleteChat(ctx context.Context, chatID string) error {
	if err := d.delete(ctx, d.tables.ChatRecords, idKey(chatID)); err != nil {
		return err
	}
	responses, err := d.ListChatResponses(ctx, chatID)
	if err != nil {
		return err
	}
	for start := 0; start < len(responses); start += batchSize {
		end := min(start+batchSize, len(responses))
		reqs := make([]types.WriteRequest, 0, end-start)
		for _, r := range responses[start:end] {
			reqs = append(reqs, types.WriteRequest{DeleteRequest: &types.DeleteRequest{
				Key: map[string]types.AttributeValue{"id": str(chatID), "resp_no": num(r.RespNo)},
			}})
		}
		if err := d.batchWrite(ctx, map[string][]types.WriteRequest{d.tables.ChatResponses: reqs}); err != nil {
			return errors.Wrapf(err, "failed to delete chat responses %s", chatID)
		}
	}
	return nil
}

// batchWrite sends pending and resends whatever comes back unprocessed until
// nothing is left, the tries run out or ctx ends.
func (d *DynamoStore) batchWrite(ctx context.Context, pending map[string][]types.WriteRequest) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = batchInitialBackoff
	if d.batchBackoff > 0 {
		b.InitialInterval = d.batchBackoff
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		out, err := d.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		pending = out.UnprocessedItems
		if n := countRequests(pending); n > 0 {
			return struct{}{}, errors.New("%d batch items left unprocessed", n)
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(batchMaxTries))
	return err
}

func countRequests(items map[string][]types.WriteRequest) int {
	n := 0
	for _, reqs := range items {
		n += len(reqs)
	}
	return n
}
