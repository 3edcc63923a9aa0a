package main

import (
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"yieldprotocol/cmd/internal/passphrase"
	"yieldprotocol/crypto"
)

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func keygen(args []string, out io.Writer) error {
	fs := newFlagSet("keygen")
	keystorePath := fs.String("keystore", "", "write the key to an encrypted keystore file")
	passEnv := fs.String("passphrase-env", "YIELDCTL_PASSPHRASE", "environment variable holding the keystore passphrase")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	addr := key.PubKey().Address()
	if path := strings.TrimSpace(*keystorePath); path != "" {
		pass, err := passphrase.NewSource(*passEnv, "").Get()
		if err != nil {
			return err
		}
		if err := crypto.SaveToKeystore(path, key, pass); err != nil {
			return fmt.Errorf("save keystore: %w", err)
		}
		fmt.Fprintf(out, "Keystore written to %s\n", path)
	}
	fmt.Fprintf(out, "Address: %s\n", addr.String())
	fmt.Fprintf(out, "Hex:     0x%x\n", addr.Bytes())
	return nil
}

func address(args []string, out io.Writer) error {
	fs := newFlagSet("address")
	keystorePath := fs.String("keystore", "", "read the address from a keystore file")
	passEnv := fs.String("passphrase-env", "YIELDCTL_PASSPHRASE", "environment variable holding the keystore passphrase")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	var raw [20]byte
	if path := strings.TrimSpace(*keystorePath); path != "" {
		pass, err := passphrase.NewSource(*passEnv, "").Get()
		if err != nil {
			return err
		}
		key, err := crypto.LoadFromKeystore(path, pass)
		if err != nil {
			return fmt.Errorf("load keystore: %w", err)
		}
		raw = key.PubKey().Address().Raw()
	} else {
		if fs.NArg() != 1 {
			return errUsage
		}
		parsed, err := crypto.ParseAddress(fs.Arg(0))
		if err != nil {
			return err
		}
		raw = parsed
	}
	fmt.Fprintf(out, "%s\n0x%x\n", crypto.AddressFromRaw(raw).String(), raw[:])
	return nil
}

func issueToken(args []string, out io.Writer) error {
	fs := newFlagSet("token")
	subject := fs.String("sub", "", "account the token acts for")
	scope := fs.String("scope", "", "space separated scopes (oracle, treasury)")
	issuer := fs.String("iss", "yieldd", "token issuer")
	audience := fs.String("aud", "yieldd-admin", "token audience")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	secretEnv := fs.String("secret-env", "YIELDD_JWT_SECRET", "environment variable holding the HMAC secret")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if _, err := crypto.ParseAddress(*subject); err != nil {
		return fmt.Errorf("--sub: %w", err)
	}
	secret := strings.TrimSpace(os.Getenv(*secretEnv))
	if secret == "" {
		return fmt.Errorf("%s is not set", *secretEnv)
	}
	if *ttl <= 0 {
		return fmt.Errorf("--ttl must be positive")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": *subject,
		"iss": *issuer,
		"aud": *audience,
		"iat": now.Unix(),
		"exp": now.Add(*ttl).Unix(),
	}
	if s := strings.TrimSpace(*scope); s != "" {
		claims["scope"] = s
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return err
	}
	fmt.Fprintln(out, signed)
	return nil
}

func query(c *client, out io.Writer, path string) error {
	raw, err := c.get(path)
	if err != nil {
		return err
	}
	return printJSON(out, raw)
}

func accountQuery(c *client, out io.Writer, args []string, suffix string) error {
	if len(args) != 1 {
		return errUsage
	}
	if _, err := crypto.ParseAddress(args[0]); err != nil {
		return err
	}
	return query(c, out, "/v1/accounts/"+url.PathEscape(args[0])+suffix)
}

func events(c *client, out io.Writer, args []string) error {
	fs := newFlagSet("events")
	eventType := fs.String("type", "", "event type filter")
	from := fs.Uint64("from", 0, "lowest ledger height")
	limit := fs.Int("limit", 0, "maximum events")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	values := url.Values{}
	if *eventType != "" {
		values.Set("type", *eventType)
	}
	if *from > 0 {
		values.Set("from", strconv.FormatUint(*from, 10))
	}
	if *limit > 0 {
		values.Set("limit", strconv.Itoa(*limit))
	}
	path := "/v1/events"
	if encoded := values.Encode(); encoded != "" {
		path += "?" + encoded
	}
	return query(c, out, path)
}

func deposit(c *client, out io.Writer, args []string) error {
	fs := newFlagSet("deposit")
	asset := fs.String("asset", "USDC", "asset to deposit")
	amount := fs.String("amount", "", "amount in micro units")
	lock := fs.String("lock", "3m", "lock period (3m, 6m, 12m)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if strings.TrimSpace(*amount) == "" {
		return fmt.Errorf("--amount is required")
	}
	raw, err := c.post("/v1/vault/deposit", map[string]string{"asset": *asset, "amount": *amount, "lock": *lock})
	if err != nil {
		return err
	}
	return printJSON(out, raw)
}

func withdraw(c *client, out io.Writer, args []string) error {
	fs := newFlagSet("withdraw")
	emergency := fs.Bool("emergency", false, "close before the lock expires and pay the penalty")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	id, err := parseID(fs.Args())
	if err != nil {
		return err
	}
	raw, err := c.post("/v1/vault/positions/"+id+"/withdraw", map[string]bool{"emergency": *emergency})
	if err != nil {
		return err
	}
	return printJSON(out, raw)
}

func vote(c *client, out io.Writer, args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	id, err := parseID(args[:1])
	if err != nil {
		return err
	}
	choice := strings.ToLower(strings.TrimSpace(args[1]))
	switch choice {
	case "yes", "no", "abstain":
	default:
		return fmt.Errorf("vote choice must be yes, no or abstain")
	}
	raw, err := c.post("/v1/proposals/"+id+"/vote", map[string]string{"choice": choice})
	if err != nil {
		return err
	}
	return printJSON(out, raw)
}

func committeeVote(c *client, out io.Writer, args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	id, err := parseID(args[:1])
	if err != nil {
		return err
	}
	var approve bool
	switch strings.ToLower(strings.TrimSpace(args[1])) {
	case "approve", "yes":
		approve = true
	case "reject", "no":
	default:
		return fmt.Errorf("committee vote must be approve or reject")
	}
	raw, err := c.post("/v1/proposals/"+id+"/committee-vote", map[string]bool{"approve": approve})
	if err != nil {
		return err
	}
	return printJSON(out, raw)
}

func proposalAction(c *client, out io.Writer, args []string, action string) error {
	id, err := parseID(args)
	if err != nil {
		return err
	}
	raw, err := c.post("/v1/proposals/"+id+"/"+action, map[string]string{})
	if err != nil {
		return err
	}
	return printJSON(out, raw)
}

func setPrice(c *client, out io.Writer, args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	raw, err := c.post("/v1/admin/prices", map[string]string{"asset": args[0], "rate": args[1]})
	if err != nil {
		return err
	}
	return printJSON(out, raw)
}

func parseID(args []string) (string, error) {
	if len(args) != 1 {
		return "", errUsage
	}
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil || id == 0 {
		return "", fmt.Errorf("invalid id %q", args[0])
	}
	return strconv.FormatUint(id, 10), nil
}
