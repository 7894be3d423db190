package service

import (
	"context"
	"errors"
	"fmt"

	"storefront-api/internal/encryption"
	"storefront-api/internal/models"
	"storefront-api/internal/repository"
)

// ContactResolver returns the verified out-of-band address of an account.
type ContactResolver interface {
	ContactEmail(ctx context.Context, accountID string) (string, error)
}

// AccountContacts decrypts the e-mail stored on the account record.
type AccountContacts struct {
	accounts   repository.AccountStore
	encryption *encryption.EncryptionManager
}

func NewAccountContacts(accounts repository.AccountStore, em *encryption.EncryptionManager) *AccountContacts {
	return &AccountContacts{accounts: accounts, encryption: em}
}

func (c *AccountContacts) ContactEmail(ctx context.Context, accountID string) (string, error) {
	account, err := c.accounts.GetAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", newError(ErrNotFound, "Account not found")
		}
		return "", fmt.Errorf("load account: %w", err)
	}
	return c.decryptEmail(ctx, account)
}

func (c *AccountContacts) decryptEmail(ctx context.Context, account *models.Account) (string, error) {
	email, err := c.encryption.DecryptField(ctx, &encryption.EncryptedData{
		EncryptedValue: account.EmailEncrypted,
		EncryptedDEK:   account.EmailDEK,
		KeyID:          account.EmailKeyID,
	})
	if err != nil {
		return "", fmt.Errorf("decrypt email: %w", err)
	}
	return email, nil
}
