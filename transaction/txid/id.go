package txid

// TxID is transaction id
// this can overflow, so ids have to be compared with IsFollows/IsPrecedes
type TxID uint32

// see https://github.com/postgres/postgres/blob/a448e49bcbe40fb72e1ed85af910dd216d45bad8/src/include/access/transam.h#L31-L35
const (
	// invalid transaction id
	InvalidTxID TxID = 0
	// bootstrap transaction id. tuples inserted by it are treated as committed
	BootstrapTxID TxID = 1
	// transaction id frozen by vacuum. (this is visible to any other transactions.)
	// frozen transaction id must be smaller than first transaction id
	FrozenTxID TxID = 2
	// first transaction id allocated by transaction id manager
	FirstTxID TxID = 3
)

// IsNormal checks whether the transaction is a normal (allocated) one
func (id TxID) IsNormal() bool {
	return id >= FirstTxID
}

// IsEqual checks whether the transaction is equal to the compared
func (id TxID) IsEqual(compared TxID) bool {
	return id == compared
}

// IsFollows checks whether txID logically follows compared (txID > compared)
// permanent (non-normal) ids are compared as plain integers
// see https://github.com/postgres/postgres/blob/a448e49bcbe40fb72e1ed85af910dd216d45bad8/src/include/access/transam.h#L332-L356
func (id TxID) IsFollows(compared TxID) bool {
	if !id.IsNormal() || !compared.IsNormal() {
		return id > compared
	}
	// if the diff is bigger than 2^31,
	// then the bigger is treated as the older one because of conversion to int32.
	return int32(id-compared) > 0
}

// IsPrecedes checks whether txID logically precedes compared (txID < compared)
func (id TxID) IsPrecedes(compared TxID) bool {
	if !id.IsNormal() || !compared.IsNormal() {
		return id < compared
	}
	return int32(id-compared) < 0
}

// IsPrecedesOrEquals checks whether txID <= compared
func (id TxID) IsPrecedesOrEquals(compared TxID) bool {
	return id == compared || id.IsPrecedes(compared)
}

// advanceTxID advances transaction id
// this considers wraparound of transaction id.
func advanceTxID(txID TxID) TxID {
	txID++
	if !txID.IsNormal() {
		return FirstTxID
	}
	return txID
}

// Retreat returns the id distance before txID, skipping permanent ids
// vacuum uses this to compute freeze limits from the oldest xmin
func (id TxID) Retreat(distance uint32) TxID {
	limit := id - TxID(distance)
	if !limit.IsNormal() {
		limit -= FirstTxID
	}
	return limit
}
