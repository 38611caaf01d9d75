package lib

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/sts"
)

var stsAccounts = make(map[string]string)
var stsAccountsLock sync.Mutex

func StsAccount(ctx context.Context, profile string) (string, error) {
	stsAccountsLock.Lock()
	defer stsAccountsLock.Unlock()
	account, ok := stsAccounts[profile]
	if !ok {
		sess, err := Session(ctx, profile)
		if err != nil {
			return "", err
		}
		var out *sts.GetCallerIdentityOutput
		err = Retry(ctx, func() error {
			var err error
			out, err = sts.NewFromConfig(*sess).GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
			return err
		})
		if err != nil {
			Logger.Println("error:", err)
			return "", err
		}
		account = *out.Account
		stsAccounts[profile] = account
	}
	return account, nil
}
