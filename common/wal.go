package common

// WALRecordPtr is the position of a record within the write-ahead log.
// this is called XLogRecPtr (lsn) in postgres. pages are stamped with it when they are modified.
// see https://github.com/postgres/postgres/blob/a448e49bcbe40fb72e1ed85af910dd216d45bad8/src/include/access/xlogdefs.h#L21
type WALRecordPtr uint64

// InvalidWALRecordPtr is the position never assigned to any record
const InvalidWALRecordPtr WALRecordPtr = 0
