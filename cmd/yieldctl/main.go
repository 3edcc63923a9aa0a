package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

var errUsage = errors.New("usage")

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			printUsage(os.Stderr)
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	global := flag.NewFlagSet("yieldctl", flag.ContinueOnError)
	global.SetOutput(io.Discard)
	endpoint := global.String("api", defaultAPIEndpoint(), "yieldd API endpoint")
	token := global.String("token", os.Getenv("YIELD_TOKEN"), "operator bearer token")
	if err := global.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	rest := global.Args()
	if len(rest) == 0 {
		return errUsage
	}
	c := newClient(*endpoint, *token)
	command, params := rest[0], rest[1:]
	switch command {
	case "keygen":
		return keygen(params, out)
	case "address":
		return address(params, out)
	case "token":
		return issueToken(params, out)
	case "status":
		return query(c, out, "/v1/status")
	case "params":
		return query(c, out, "/v1/status/params")
	case "balance":
		return accountQuery(c, out, params, "")
	case "positions":
		return accountQuery(c, out, params, "/positions")
	case "loans":
		return accountQuery(c, out, params, "/loans")
	case "proposals":
		return query(c, out, "/v1/proposals")
	case "events":
		return events(c, out, params)
	case "deposit":
		return deposit(c, out, params)
	case "withdraw":
		return withdraw(c, out, params)
	case "vote":
		return vote(c, out, params)
	case "committee-vote":
		return committeeVote(c, out, params)
	case "execute":
		return proposalAction(c, out, params, "execute")
	case "expire":
		return proposalAction(c, out, params, "expire")
	case "price":
		return setPrice(c, out, params)
	case "help", "-h", "--help":
		printUsage(out)
		return nil
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, command)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, strings.TrimSpace(`
Usage: yieldctl [--api URL] [--token JWT] <command> [args]

Keys and tokens:
  keygen [--keystore PATH]                 Generate an account key
  address <hex|bech32> | --keystore PATH   Print both address encodings
  token --sub ADDR [--scope S] [--ttl D]   Sign an operator token (secret from YIELDD_JWT_SECRET)

Queries:
  status | params | proposals
  balance <addr> | positions <addr> | loans <addr>
  events [--type T] [--from H] [--limit N]

Operations (require --token):
  deposit --asset A --amount N --lock 3m|6m|12m
  withdraw <position> [--emergency]
  vote <proposal> yes|no|abstain
  committee-vote <proposal> approve|reject
  execute <proposal> | expire <proposal>
  price <asset> <rate>
`))
}
