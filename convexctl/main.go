package main

import (
	"context"
	"encoding/json"
	"log"
	"os"

	"github.com/docopt/docopt-go"

	convex "github.com/convexsync/convex-go"
)

const ConvexCtlVersion = "0.0.1"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Convex sync control.

The url is the deployment sync endpoint, e.g. wss://<deployment>.convex.cloud/api/sync

Usage:
    convexctl watch --url=<url> [--auth=<token>]
        [--count=<count>]
        <function> [<args_json>]
    convexctl mutation --url=<url> [--auth=<token>] <function> [<args_json>]
    convexctl action --url=<url> [--auth=<token>] <function> [<args_json>]
    convexctl token-info <token>

Options:
    -h --help          Show this screen.
    --version          Show version.
    --url=<url>        Deployment sync endpoint url.
    --auth=<token>     Auth token to send before any queries.
    --count=<count>    Print this many updates then exit. 0 means forever.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], ConvexCtlVersion)
	if err != nil {
		panic(err)
	}

	if watch_, _ := opts.Bool("watch"); watch_ {
		watch(opts)
	} else if mutation_, _ := opts.Bool("mutation"); mutation_ {
		request(opts, false)
	} else if action_, _ := opts.Bool("action"); action_ {
		request(opts, true)
	} else if tokenInfo_, _ := opts.Bool("token-info"); tokenInfo_ {
		tokenInfo(opts)
	}
}

func parseArgs(opts docopt.Opts) map[string]any {
	argsJson, err := opts.String("<args_json>")
	if err != nil || argsJson == "" {
		return map[string]any{}
	}
	args := map[string]any{}
	if err := json.Unmarshal([]byte(argsJson), &args); err != nil {
		Err.Fatalf("Bad args json: %s", err)
	}
	return args
}

func newClient(ctx context.Context, opts docopt.Opts) *convex.Client {
	url, err := opts.String("--url")
	if err != nil {
		Err.Fatal("Missing --url.")
	}
	client := convex.NewClientWithDefaults(ctx, url, nil)
	if auth, err := opts.String("--auth"); err == nil && auth != "" {
		client.SetAuth(auth)
	}
	return client
}

func printResult(result convex.FunctionResult) {
	switch v := result.(type) {
	case convex.ValueResult:
		b, err := json.Marshal(v.Value)
		if err != nil {
			Err.Fatalf("Bad value: %s", err)
		}
		Out.Printf("%s", b)
	case convex.ErrorMessageResult:
		Err.Printf("error: %s", v.Message)
	case convex.ConvexErrorResult:
		b, _ := json.Marshal(v.Data)
		Err.Printf("error: %s %s", v.Message, b)
	}
}

func watch(opts docopt.Opts) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	function, err := opts.String("<function>")
	if err != nil {
		Err.Fatal("Missing function.")
	}
	count, err := opts.Int("--count")
	if err != nil {
		count = 0
	}

	client := newClient(ctx, opts)
	defer client.Close()

	subscription := client.Subscribe(function, parseArgs(opts))
	defer subscription.Unsubscribe()

	i := 0
	for result := range subscription.Updates() {
		printResult(result)
		i += 1
		if 0 < count && count <= i {
			return
		}
	}
}

func request(opts docopt.Opts, action bool) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	function, err := opts.String("<function>")
	if err != nil {
		Err.Fatal("Missing function.")
	}

	client := newClient(ctx, opts)
	defer client.Close()

	var handle *convex.RequestHandle
	if action {
		handle = client.Action(function, parseArgs(opts))
	} else {
		handle = client.Mutation(function, parseArgs(opts))
	}

	result, err := handle.Await(ctx)
	if err != nil {
		Err.Fatalf("Await error: %s", err)
	}
	printResult(result)
}

func tokenInfo(opts docopt.Opts) {
	token, err := opts.String("<token>")
	if err != nil {
		Err.Fatal("Missing token.")
	}
	claims, err := convex.ParseAuthClaimsUnverified(token)
	if err != nil {
		Err.Fatalf("Bad token: %s", err)
	}
	Out.Printf("subject: %s", claims.Subject)
	Out.Printf("issuer: %s", claims.Issuer)
	if claims.HasExpiry() {
		Out.Printf("expires: %s", claims.Expiry)
	}
}
