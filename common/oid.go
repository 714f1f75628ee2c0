package common

// oid is object id
// in ppvacuum, this identifies tables and indexes
// see https://github.com/postgres/postgres/blob/2f47715cc8649f854b1df28dfc338af9801db217/src/include/postgres_ext.h#L28-L31
type oid uint32

// Relation is table (or index) oid
// the statistics of each relation are stored in catalog package, keyed by this oid
type Relation oid

// InvalidRelation is never allocated to any relation
const InvalidRelation Relation = 0
