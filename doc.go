/*Package rankstep runs one iteration step of PageRank's power iteration as a
MapReduce job: the sparse transition matrix is joined with the current rank
vector on the source page, and every link yields a partial contribution toward
the next rank vector.

A Job has a Reducer and any number of input Sources, each pairing input paths
with the Mapper that understands their records. The Driver splits the inputs,
runs mappers that partition their output into shuffle bins, then runs one
reducer per bin over the complete group of values of every key.

Executors are stateless and transient. They either run in-process or as AWS
Lambda functions, with inputs, shuffle bins and output parts stored on local
disk or S3.
*/
package rankstep
