package expr

import (
	"time"

	"github.com/google/uuid"
)

func defaultNow() time.Time { return time.Now() }
func defaultUUID() string   { return uuid.NewString() }
