package schema

import (
	"strconv"

	"github.com/google/uuid"
)

const legacyOwnerPrefix = "urn:cart-owner:user:"

// DeriveLegacyUUID maps an integer user id to the synthetic owner uuid used by
// cart tables whose owner column was migrated to uuid without a data
// migration. The output must never change: existing carts are keyed by it.
func DeriveLegacyUUID(userID int64) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(legacyOwnerPrefix+strconv.FormatInt(userID, 10)))
}
