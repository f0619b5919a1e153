// Command vault-inspect pokes directly at a vault's metadata database,
// bypassing the Local Vault and the consistency ordering in §4.4. It is a
// debug tool only: put does not maintain the parent/child invariants
// the store normally guarantees.
package main

import (
	"fmt"
	"io/ioutil"
	"log"
	"os"

	flag "github.com/spf13/pflag"
	bolt "go.etcd.io/bbolt"
)

func usage() {
	fmt.Println(`Usage:
  vault-inspect dump <db-file> <bucket>
  vault-inspect put <db-file> <bucket> <key> < data`)
}

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) < 3 {
		usage()
		os.Exit(1)
	}

	cmd, dbFile, bucket := args[0], args[1], args[2]
	db, err := bolt.Open(dbFile, 0600, nil)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	switch cmd {
	case "dump":
		err = db.View(func(tx *bolt.Tx) error {
			b := tx.Bucket([]byte(bucket))
			if b == nil {
				return fmt.Errorf("no such bucket %q", bucket)
			}
			return b.ForEach(func(k, v []byte) error {
				fmt.Printf("%x: %d bytes\n", k, len(v))
				return nil
			})
		})
	case "put":
		if len(args) < 4 {
			usage()
			os.Exit(1)
		}
		key := args[3]
		var contents []byte
		contents, err = ioutil.ReadAll(os.Stdin)
		if err != nil {
			log.Fatal(err)
		}
		err = db.Update(func(tx *bolt.Tx) error {
			b, berr := tx.CreateBucketIfNotExists([]byte(bucket))
			if berr != nil {
				return berr
			}
			return b.Put([]byte(key), contents)
		})
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("success!")
}
