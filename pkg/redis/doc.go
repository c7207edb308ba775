// Package redis connects to Redis with github.com/redis/go-redis/v9 and
// provides the distributed Locker used to keep renewal passes from
// overlapping when several billing processes share one database.
package redis
