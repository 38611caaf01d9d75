package lib

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

var ec2Clients = make(map[string]*ec2.Client)
var ec2ClientsLock sync.Mutex

func EC2Client(ctx context.Context, profile string) (*ec2.Client, error) {
	ec2ClientsLock.Lock()
	defer ec2ClientsLock.Unlock()
	client, ok := ec2Clients[profile]
	if !ok {
		sess, err := Session(ctx, profile)
		if err != nil {
			return nil, err
		}
		client = ec2.NewFromConfig(*sess)
		ec2Clients[profile] = client
	}
	return client, nil
}

type EC2DescribeInstancesAPI interface {
	DescribeInstances(ctx context.Context, input *ec2.DescribeInstancesInput, opts ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
}

// EC2Fetcher pages through DescribeInstances for one profile and keeps the
// most recent snapshot when asked to.
type EC2Fetcher struct {
	Client EC2DescribeInstancesAPI
	Schema *Schema

	cached []Record
}

func NewEC2Fetcher(ctx context.Context, profile string, schema *Schema) (*EC2Fetcher, error) {
	client, err := EC2Client(ctx, profile)
	if err != nil {
		return nil, &FetchError{Op: "client", Err: err}
	}
	return &EC2Fetcher{Client: client, Schema: schema}, nil
}

// FetchAll returns every instance of every reservation of every page, in the
// order the api returned them.
func (f *EC2Fetcher) FetchAll(ctx context.Context, filters ...ec2types.Filter) ([]ec2types.Instance, error) {
	var instances []ec2types.Instance
	var nextToken *string
	seenTokens := map[string]bool{}
	for {
		output, err := f.Client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
			Filters:   filters,
			NextToken: nextToken,
		})
		if err != nil {
			Logger.Println("error:", err)
			return nil, &FetchError{Op: "DescribeInstances", Err: err}
		}
		if output == nil {
			err := fmt.Errorf("nil page")
			Logger.Println("error:", err)
			return nil, &FetchError{Op: "DescribeInstances", Err: err}
		}
		for _, reservation := range output.Reservations {
			instances = append(instances, reservation.Instances...)
		}
		if output.NextToken == nil || *output.NextToken == "" {
			break
		}
		if seenTokens[*output.NextToken] {
			err := fmt.Errorf("repeated next token: %s", *output.NextToken)
			Logger.Println("error:", err)
			return nil, &FetchError{Op: "DescribeInstances", Err: err}
		}
		seenTokens[*output.NextToken] = true
		nextToken = output.NextToken
	}
	return instances, nil
}

// FetchRaw returns the full instance data as nested records.
func (f *EC2Fetcher) FetchRaw(ctx context.Context, filters ...ec2types.Filter) ([]Record, error) {
	instances, err := f.FetchAll(ctx, filters...)
	if err != nil {
		return nil, err
	}
	var records []Record
	for _, instance := range instances {
		r, err := EC2InstanceRecord(instance)
		if err != nil {
			Logger.Println("error:", err)
			return nil, &FetchError{Op: "decode", Err: err}
		}
		records = append(records, r)
	}
	return records, nil
}

// FetchRecords fetches and runs every instance through the schema. A record
// whose cast fails is skipped and its error returned in errs, carrying the
// instance id. With cache the result replaces the cached snapshot.
func (f *EC2Fetcher) FetchRecords(ctx context.Context, cache bool, filters ...ec2types.Filter) (records []Record, errs []error, err error) {
	raws, err := f.FetchRaw(ctx, filters...)
	if err != nil {
		return nil, nil, err
	}
	for _, raw := range raws {
		r, err := f.Schema.Apply(raw)
		if err != nil {
			var castErr *CastError
			if errors.As(err, &castErr) {
				castErr.ID = raw.Get("InstanceId")
			}
			Logger.Println("error:", err)
			errs = append(errs, err)
			continue
		}
		records = append(records, r)
	}
	if cache {
		f.cached = records
	}
	return records, errs, nil
}

func (f *EC2Fetcher) Cached() []Record {
	return f.cached
}

// Records returns the cached snapshot, fetching it first when empty or when
// refresh is set.
func (f *EC2Fetcher) Records(ctx context.Context, refresh bool) ([]Record, []error, error) {
	if len(f.cached) > 0 && !refresh {
		return f.cached, nil, nil
	}
	return f.FetchRecords(ctx, true)
}

func EC2InstanceRecord(instance ec2types.Instance) (Record, error) {
	bytes, err := json.Marshal(instance)
	if err != nil {
		return nil, err
	}
	val := make(map[string]any)
	err = json.Unmarshal(bytes, &val)
	if err != nil {
		return nil, err
	}
	return RecordFromAny(val), nil
}

func EC2StateFilter(state string) []ec2types.Filter {
	if state == "" {
		return nil
	}
	return []ec2types.Filter{{Name: aws.String("instance-state-name"), Values: []string{state}}}
}
