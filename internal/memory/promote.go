package memory

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/organism/internal/model"
	"github.com/rcliao/organism/internal/store"
)

// Promote copies reinforced Working Memory beliefs into the Long-Term tier
// as promoted facts and returns the promoted keys.
func Promote(ctx context.Context, wm *Working, ltm store.Store) ([]string, error) {
	keys := wm.Reinforced(wm.Now())
	var promoted []string
	for _, key := range keys {
		v, ok := wm.Get(key)
		if !ok {
			continue
		}
		_, err := ltm.Put(ctx, store.PutParams{
			Type:     model.EntryTypePromotedFact,
			Key:      key,
			Payload:  fmt.Sprint(v),
			Promoted: true,
		})
		if err != nil {
			return promoted, goerr.Wrap(err, "promote working memory", goerr.V("key", key))
		}
		wm.MarkPromoted(key)
		promoted = append(promoted, key)
	}
	return promoted, nil
}
