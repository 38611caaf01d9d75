package awsinfo

import (
	"context"
	"fmt"
	"strings"

	"github.com/alexflint/go-arg"
	"github.com/nathants/aws-info/lib"
)

func init() {
	lib.Commands["collection-find"] = collectionFind
	lib.Args["collection-find"] = collectionFindArgs{}
}

type collectionFindArgs struct {
	Clauses []string `arg:"positional,required" help:"field:value, the first is looked up exactly, the rest match as substrings"`
	Format  string   `arg:"-f,--format" help:"line template like '{profile} {id} {name}'"`
}

func (collectionFindArgs) Description() string {
	return `
find instances in the collection

example:
 - aws-info collection-find status:running name:web
 - aws-info collection-find pem:prod -f '{profile} {id} {ip}'
`
}

func collectionFind() {
	var args collectionFindArgs
	arg.MustParse(&args)
	ctx := context.Background()
	cfg, schema, err := lib.LoadConfigSchema()
	if err != nil {
		lib.Logger.Fatal("error: ", err)
	}
	if args.Format != "" {
		cfg.Format = args.Format
	}
	format, _, err := cfg.Templates(schema)
	if err != nil {
		lib.Logger.Fatal("error: ", err)
	}
	field, value, err := lib.SplitOnce(args.Clauses[0], ":")
	if err != nil {
		lib.Logger.Fatal("error: ", err)
	}
	field = strings.TrimSpace(field)
	value = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(value), "="), "$")
	storage := lib.OpenStorage(ctx, cfg)
	records, err := storage.Find(ctx, field, value)
	if err != nil {
		lib.Logger.Fatal("error: ", err)
	}
	records = lib.FindItems(records, strings.Join(args.Clauses[1:], ","))
	lib.SortByKeys(records, []string{lib.FieldProfile, "name", cfg.IDField})
	for _, r := range records {
		fmt.Println(format.Render(r))
	}
}
