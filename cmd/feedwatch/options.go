package main

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/pflag"
)

type options struct {
	URL   string
	Token string
	Actor string
}

func parseOptions(args []string, envToken string) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("feedwatch", pflag.ContinueOnError)
	fs.StringVarP(&opts.URL, "url", "u", "ws://127.0.0.1:8081/ws", "gateway websocket endpoint")
	fs.StringVarP(&opts.Token, "token", "t", envToken, "bearer token of the watching user")
	fs.StringVarP(&opts.Actor, "actor", "a", "", "local actor id; defaults to the token subject")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	if opts.Token == "" {
		return options{}, errors.New("a token is required (--token or FEEDWATCH_TOKEN)")
	}
	if opts.Actor == "" {
		opts.Actor = tokenSubject(opts.Token)
	}
	return opts, nil
}

// tokenSubject reads the subject claim without verifying the signature; the
// gateway does the verification.
func tokenSubject(token string) string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return ""
	}
	sub, _ := claims.GetSubject()
	return sub
}
