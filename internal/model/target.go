// internal/model/target.go
package model

// NetWorth is the coarse wealth band attached to a business record.
type NetWorth string

const (
	NetWorthHigh   NetWorth = "high"
	NetWorthMedium NetWorth = "medium"
	NetWorthLow    NetWorth = "low"
)

// PriorityTier orders targets for dispatch. Lower Rank goes first.
type PriorityTier string

const (
	TierHighOwnerOccupied PriorityTier = "high-owner-occupied"
	TierHigh              PriorityTier = "high"
	TierMedium            PriorityTier = "medium"
	TierLow               PriorityTier = "low"
)

// Rank returns the dispatch rank of the tier (0 is the most valuable).
func (t PriorityTier) Rank() int {
	switch t {
	case TierHighOwnerOccupied:
		return 0
	case TierHigh:
		return 1
	case TierMedium:
		return 2
	default:
		return 3
	}
}

// TargetEntity is one addressable business in a campaign run.
type TargetEntity struct {
	ID            string   `db:"id" json:"id" validate:"required"`
	Name          string   `db:"name" json:"name"`
	Email         string   `db:"email" json:"email"`
	NetWorth      NetWorth `db:"net_worth" json:"net_worth"`
	OwnerOccupied bool     `db:"owner_occupied" json:"owner_occupied"`
	Industry      string   `db:"industry" json:"industry"`
	Vertical      string   `db:"vertical" json:"vertical"`
	City          string   `db:"city" json:"city"`
}

// Tier classifies the target. Only high net worth is lifted by owner occupancy.
func (t TargetEntity) Tier() PriorityTier {
	switch t.NetWorth {
	case NetWorthHigh:
		if t.OwnerOccupied {
			return TierHighOwnerOccupied
		}
		return TierHigh
	case NetWorthMedium:
		return TierMedium
	default:
		return TierLow
	}
}

// SenderIdentity is one outbound address from the rotation pool.
type SenderIdentity struct {
	Address string `json:"address" validate:"required"`
	Name    string `json:"name,omitempty"`
}
