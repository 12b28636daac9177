package execution

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofrs/flock"

	clierr "github.com/ggonzalez94/yieldmove/internal/errors"
)

const nonceLockRetry = 100 * time.Millisecond

var signerNonceLocks sync.Map

// acquireSignerNonceLock serializes nonce read, sign and broadcast for one
// signer on one chain. Goroutines share an in-process mutex; when dir is set,
// a lock file under dir also serializes separate processes using the same key.
// Call the returned func to release.
func acquireSignerNonceLock(ctx context.Context, dir string, chainID *big.Int, addr common.Address) (func(), error) {
	key := chainID.String() + "-" + strings.ToLower(addr.Hex())
	v, _ := signerNonceLocks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	if strings.TrimSpace(dir) == "" {
		return mu.Unlock, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		mu.Unlock()
		return nil, clierr.Wrap(clierr.CodeInternal, "create nonce lock directory", err)
	}
	fl := flock.New(filepath.Join(dir, "nonce-"+key+".lock"))
	locked, err := fl.TryLockContext(ctx, nonceLockRetry)
	if err != nil || !locked {
		mu.Unlock()
		if err == nil {
			err = fmt.Errorf("lock %s not acquired", fl.Path())
		}
		return nil, clierr.Wrap(clierr.CodeInternal, "acquire nonce lock", err)
	}
	return func() {
		_ = fl.Unlock()
		mu.Unlock()
	}, nil
}
