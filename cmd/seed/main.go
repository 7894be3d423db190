// Command seed creates an elevated account. Admin and partner accounts
// cannot be registered over the public API, so operators bootstrap the
// first ones here.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"storefront-api/internal/factory"
	"storefront-api/internal/models"
	"storefront-api/internal/service"
	"storefront-api/internal/util"
)

func main() {
	var (
		email     = pflag.String("email", "", "account email (required)")
		password  = pflag.String("password", os.Getenv("SEED_PASSWORD"), "account password, defaults to $SEED_PASSWORD")
		firstName = pflag.String("first-name", "Store", "first name")
		lastName  = pflag.String("last-name", "Admin", "last name")
		role      = pflag.String("role", string(models.RoleAdmin), "admin or partner")
	)
	pflag.Parse()

	if *email == "" || *password == "" {
		pflag.Usage()
		os.Exit(2)
	}
	r := models.Role(*role)
	if !r.Elevated() {
		fmt.Fprintf(os.Stderr, "role must be admin or partner, got %q\n", *role)
		os.Exit(2)
	}

	f, err := factory.NewFactory()
	if err != nil {
		util.Fatal("failed to initialize factory", util.ErrorField(err))
	}
	defer f.Close()

	account, err := f.Services().Auth().CreateAccount(context.Background(), service.RegisterRequest{
		Email:     *email,
		Password:  *password,
		FirstName: *firstName,
		LastName:  *lastName,
	}, r)
	if err != nil {
		f.Close()
		util.Fatal("create account", util.String("message", service.Message(err)), util.ErrorField(err))
	}

	util.Info("account created", util.String("account_id", account.AccountID), util.String("role", string(r)))
}
