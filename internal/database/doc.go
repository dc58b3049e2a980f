// Copyright (c) GatewayLLM Authors.
// Licensed under the MIT License.

/*
Package database provides GORM-backed connection pool management with
health checking, stats collection, and transaction retry.

# Overview

PoolManager wraps the GORM/database/sql pool configuration, managing
connection lifecycle, idle reclamation, and the open-connection ceiling.
A background health check pings the database periodically and logs
diagnostics through zap when it misbehaves.

# Core types

  - PoolManager: holds the GORM DB and the underlying sql.DB; exposes
    DB(), Ping(), Stats(), Close().
  - PoolConfig: max idle/open connections, connection lifetime, idle
    timeout, and health-check interval.
  - PoolStats: a friendly snapshot of pool counters.
  - TransactionFunc: the transaction callback type.

# Capabilities

  - Pool tuning via MaxIdleConns/MaxOpenConns/ConnMaxLifetime.
  - Background PingContext health checks with connection-count logging.
  - WithTransaction runs a single transaction; WithTransactionRetry adds
    exponential backoff for deadlocks and serialization failures.
  - GetStats returns structured pool runtime metrics.
*/
package database
