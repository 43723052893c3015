package models

// User is an end user with the organizational ancestry the resolver needs.
// StoreID is zero for users that do not belong to a store.
type User struct {
	ID         int64  `json:"id"`
	Username   string `json:"username"`
	StoreID    int64  `json:"store_id,omitempty"`
	OperatorID int64  `json:"operator_id,omitempty"`
}

func (u User) HasStore() bool {
	return u.StoreID != 0
}
