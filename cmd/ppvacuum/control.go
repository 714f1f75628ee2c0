package main

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/hashicorp/hcl"
	"github.com/pkg/errors"

	"github.com/HayatoShiba/ppvacuum/catalog"
	"github.com/HayatoShiba/ppvacuum/common"
	"github.com/HayatoShiba/ppvacuum/transaction/txid"
)

/*
control is the state which does not live in relation files: the next transaction id and
the relation statistics kept in catalog. postgres keeps the former in pg_control and the latter in pg_class.
it is written as hcl so that it can be read (and edited) by hand:

	next_xid = 120

	relation "16384" {
	  pages      = 10
	  tuples     = 1000.0
	  frozen_xid = 3
	}
*/
type control struct {
	NextXid   int               `hcl:"next_xid"`
	Relations []relationControl `hcl:"relation"`
}

type relationControl struct {
	Oid        string  `hcl:",key"`
	Pages      int     `hcl:"pages"`
	Tuples     float64 `hcl:"tuples"`
	AllVisible int     `hcl:"all_visible"`
	FrozenXid  int     `hcl:"frozen_xid"`
	HasIndex   bool    `hcl:"has_index"`
}

// readControl reads control file. zero control is returned when it does not exist yet
func readControl(path string) (*control, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &control{}, nil
		}
		return nil, errors.Wrap(err, "os.ReadFile failed")
	}
	var ctl control
	if err := hcl.Decode(&ctl, string(b)); err != nil {
		return nil, errors.Wrap(err, "hcl.Decode failed")
	}
	return &ctl, nil
}

// nextXid returns the transaction id allocated next, FirstTxID for a new data directory
func (c *control) nextXid() txid.TxID {
	id := txid.TxID(c.NextXid)
	if !id.IsNormal() {
		return txid.FirstTxID
	}
	return id
}

// load puts the relation statistics into catalog and returns the relations
func (c *control) load(cat *catalog.Catalog) ([]common.Relation, error) {
	rels := make([]common.Relation, 0, len(c.Relations))
	for _, rc := range c.Relations {
		oid, err := strconv.ParseUint(rc.Oid, 10, 32)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid relation %q", rc.Oid)
		}
		rel := common.Relation(oid)
		cat.UpdateRelationStats(rel, catalog.RelationStats{
			RelPages:      uint32(rc.Pages),
			RelTuples:     rc.Tuples,
			RelAllVisible: uint32(rc.AllVisible),
			RelFrozenXid:  txid.TxID(rc.FrozenXid),
			HasIndex:      rc.HasIndex,
		})
		rels = append(rels, rel)
	}
	return rels, nil
}

// store copies the statistics of rels from catalog
func (c *control) store(next txid.TxID, cat *catalog.Catalog, rels []common.Relation) {
	c.NextXid = int(next)
	c.Relations = c.Relations[:0]
	for _, rel := range rels {
		st, ok := cat.RelationStats(rel)
		if !ok {
			continue
		}
		c.Relations = append(c.Relations, relationControl{
			Oid:        strconv.FormatUint(uint64(rel), 10),
			Pages:      int(st.RelPages),
			Tuples:     st.RelTuples,
			AllVisible: int(st.RelAllVisible),
			FrozenXid:  int(st.RelFrozenXid),
			HasIndex:   st.HasIndex,
		})
	}
	sort.Slice(c.Relations, func(i, j int) bool {
		return c.Relations[i].Oid < c.Relations[j].Oid
	})
}

func (c *control) encode() []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "next_xid = %d\n", c.NextXid)
	for _, rc := range c.Relations {
		fmt.Fprintf(&buf, "\nrelation %q {\n", rc.Oid)
		fmt.Fprintf(&buf, "  pages       = %d\n", rc.Pages)
		// tuples always has a fraction so that it is read back as float
		fmt.Fprintf(&buf, "  tuples      = %s\n", strconv.FormatFloat(rc.Tuples, 'f', 1, 64))
		fmt.Fprintf(&buf, "  all_visible = %d\n", rc.AllVisible)
		fmt.Fprintf(&buf, "  frozen_xid  = %d\n", rc.FrozenXid)
		fmt.Fprintf(&buf, "  has_index   = %t\n", rc.HasIndex)
		buf.WriteString("}\n")
	}
	return buf.Bytes()
}

// write replaces control file atomically
func (c *control) write(path string) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, c.encode(), 0600); err != nil {
		return errors.Wrap(err, "os.WriteFile failed")
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrap(err, "os.Rename failed")
	}
	return nil
}
